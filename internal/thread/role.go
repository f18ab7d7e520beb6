package thread

// Role names a declared worker population (§4.2).
type Role string

const (
	RoleRPC     Role = "rpc"
	RoleIndexer Role = "indexer"
	RoleMempool Role = "mempool"
	RoleP2P     Role = "p2p"
	RoleAPI     Role = "api"
	RolePlugin  Role = "plugin"
)
