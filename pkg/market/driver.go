package market

// 文件: pkg/market/driver.go
// 行情源驱动定义
//
// 每个驱动描述一个上游行情端点 (REST + WS + 合约类别)。
// 默认走 Bybit USDT 线性永续主网，测试网用于联调。

// Driver 行情源端点描述
type Driver struct {
	Name     string
	RESTURL  string
	WSURL    string
	Category string // Bybit v5 category: linear / spot
}

var (
	// BybitUSDTPerpetual 主网线性永续
	BybitUSDTPerpetual = Driver{
		Name:     "bybit-usdt-perpetual",
		RESTURL:  "https://api.bybit.com",
		WSURL:    "wss://stream.bybit.com/v5/public/linear",
		Category: "linear",
	}

	// BybitUSDTPerpetualTestnet 测试网线性永续
	BybitUSDTPerpetualTestnet = Driver{
		Name:     "bybit-usdt-perpetual-testnet",
		RESTURL:  "https://api-testnet.bybit.com",
		WSURL:    "wss://stream-testnet.bybit.com/v5/public/linear",
		Category: "linear",
	}

	// BybitSpot 主网现货
	BybitSpot = Driver{
		Name:     "bybit-spot",
		RESTURL:  "https://api.bybit.com",
		WSURL:    "wss://stream.bybit.com/v5/public/spot",
		Category: "spot",
	}
)

// drivers 按名字索引
var drivers = map[string]Driver{
	BybitUSDTPerpetual.Name:        BybitUSDTPerpetual,
	BybitUSDTPerpetualTestnet.Name: BybitUSDTPerpetualTestnet,
	BybitSpot.Name:                 BybitSpot,
}

// DriverByName 按名字取驱动，未知名字回落到主网线性永续
func DriverByName(name string) Driver {
	if d, ok := drivers[name]; ok {
		return d
	}
	return BybitUSDTPerpetual
}
