package chain

// assetManagerABI covers the AssetManager surface this service touches.
// getCompletedMaintenance returns a static struct, which encodes the same as
// the flat output list declared here.
const assetManagerABI = `[
	{"inputs":[{"name":"assetId","type":"uint256"}],"name":"getAssetStatus","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"user","type":"address"}],"name":"counterMiss","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"nextAssetId","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"assetId","type":"uint256"}],"name":"getCompletedMaintenanceCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"assetId","type":"uint256"},{"name":"index","type":"uint256"}],"name":"getCompletedMaintenance","outputs":[
		{"name":"technician","type":"address"},
		{"name":"readyForPayment","type":"bool"},
		{"name":"isPaid","type":"bool"},
		{"name":"paymentTimestamp","type":"uint256"},
		{"name":"paidAmountWei","type":"uint256"},
		{"name":"userReimbursed","type":"address"},
		{"name":"userReimbursedAmountWei","type":"uint256"}
	],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"assetId","type":"uint256"},{"name":"description","type":"string"}],"name":"reportFault","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"assetId","type":"uint256"},{"name":"reason","type":"string"}],"name":"cancelFault","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"assetId","type":"uint256"},{"name":"hashHex","type":"string"}],"name":"storePredictiveHash","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"assetId","type":"uint256"},{"name":"technicianAmount","type":"uint256"},{"name":"user","type":"address"},{"name":"userAmount","type":"uint256"}],"name":"confirmPayment","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"assetId","type":"uint256"},{"indexed":false,"name":"reason","type":"string"}],"name":"FaultCancelled","type":"event"}
]`

// Contract method and event names. Simulated.FailNext keys on these.
const (
	MethodAssetStatus      = "getAssetStatus"
	MethodBanCount         = "counterMiss"
	MethodNextAssetID      = "nextAssetId"
	MethodMaintenanceCount = "getCompletedMaintenanceCount"
	MethodMaintenance      = "getCompletedMaintenance"
	MethodReportFault      = "reportFault"
	MethodCancelFault      = "cancelFault"
	MethodStoreHash        = "storePredictiveHash"
	MethodConfirmPayment   = "confirmPayment"
	EventFaultCancelled    = "FaultCancelled"
)
