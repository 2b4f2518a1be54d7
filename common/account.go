package common

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide int

const (
	OrderSideOpenLong   OrderSide = 1
	OrderSideCloseShort OrderSide = 2
	OrderSideOpenShort  OrderSide = 3
	OrderSideCloseLong  OrderSide = 4
)

// OrderType is how the order executes.
type OrderType int

const (
	OrderTypeLimit         OrderType = 1
	OrderTypePostOnly      OrderType = 2
	OrderTypeIOC           OrderType = 3
	OrderTypeFOK           OrderType = 4
	OrderTypeMarket        OrderType = 5
	OrderTypeMarketToLimit OrderType = 6
)

// OpenType is the margin mode of a position.
type OpenType int

const (
	OpenTypeIsolated OpenType = 1
	OpenTypeCross    OpenType = 2
)

// OrderState values.
const (
	OrderStateUninformed  = 1
	OrderStateUncompleted = 2
	OrderStateCompleted   = 3
	OrderStateCancelled   = 4
	OrderStateInvalid     = 5
)

// Position type (direction) values.
const (
	PositionTypeLong  = 1
	PositionTypeShort = 2
)

// Position state values.
const (
	PositionStateHolding     = 1
	PositionStateAutoHolding = 2
	PositionStateClosed      = 3
)

// OrderUpdate is a private order push, and also the shape of a single order
// returned by the order endpoints.
type OrderUpdate struct {
	OrderID      string          `json:"orderId"`
	Symbol       string          `json:"symbol"`
	PositionID   int64           `json:"positionId"`
	Price        decimal.Decimal `json:"price"`
	Vol          decimal.Decimal `json:"vol"`
	Leverage     int             `json:"leverage"`
	Side         OrderSide       `json:"side"`
	Category     int             `json:"category"`
	OrderType    OrderType       `json:"orderType"`
	DealAvgPrice decimal.Decimal `json:"dealAvgPrice"`
	DealVol      decimal.Decimal `json:"dealVol"`
	OrderMargin  decimal.Decimal `json:"orderMargin"`
	TakerFee     decimal.Decimal `json:"takerFee"`
	MakerFee     decimal.Decimal `json:"makerFee"`
	Profit       decimal.Decimal `json:"profit"`
	FeeCurrency  string          `json:"feeCurrency"`
	OpenType     OpenType        `json:"openType"`
	State        int             `json:"state"`
	ExternalOid  string          `json:"externalOid"`
	ErrorCode    int             `json:"errorCode"`
	UsedMargin   decimal.Decimal `json:"usedMargin"`
	CreateTime   int64           `json:"createTime"`
	UpdateTime   int64           `json:"updateTime"`
}

func (v OrderUpdate) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("[failed to stringify OrderUpdate: %s]", err)
	}

	return string(data)
}

// OrderDeal is a single execution of an order, pushed on the private order
// deal channel.
type OrderDeal struct {
	ID          int64           `json:"id"`
	Symbol      string          `json:"symbol"`
	Side        OrderSide       `json:"side"`
	Vol         decimal.Decimal `json:"vol"`
	Price       decimal.Decimal `json:"price"`
	Fee         decimal.Decimal `json:"fee"`
	FeeCurrency string          `json:"feeCurrency"`
	Profit      decimal.Decimal `json:"profit"`
	IsTaker     bool            `json:"isTaker"`
	Category    int             `json:"category"`
	OrderID     int64           `json:"orderId"`
	Timestamp   int64           `json:"timestamp"`
}

// PositionUpdate is a private position push, and the shape of a position
// returned by the position endpoints. HoldFee is positive when funding was
// received, negative when paid.
type PositionUpdate struct {
	PositionID     int64           `json:"positionId"`
	Symbol         string          `json:"symbol"`
	PositionType   int             `json:"positionType"`
	OpenType       OpenType        `json:"openType"`
	State          int             `json:"state"`
	HoldVol        decimal.Decimal `json:"holdVol"`
	FrozenVol      decimal.Decimal `json:"frozenVol"`
	CloseVol       decimal.Decimal `json:"closeVol"`
	HoldAvgPrice   decimal.Decimal `json:"holdAvgPrice"`
	OpenAvgPrice   decimal.Decimal `json:"openAvgPrice"`
	CloseAvgPrice  decimal.Decimal `json:"closeAvgPrice"`
	LiquidatePrice decimal.Decimal `json:"liquidatePrice"`
	OIM            decimal.Decimal `json:"oim"`
	IM             decimal.Decimal `json:"im"`
	ADLLevel       int             `json:"adlLevel"`
	HoldFee        decimal.Decimal `json:"holdFee"`
	Realised       decimal.Decimal `json:"realised"`
	Leverage       int             `json:"leverage"`
	CreateTime     int64           `json:"createTime"`
	UpdateTime     int64           `json:"updateTime"`
	AutoAddIm      bool            `json:"autoAddIm"`
}

func (v PositionUpdate) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("[failed to stringify PositionUpdate: %s]", err)
	}

	return string(data)
}

// SubmitOrderRequest is the payload for placing an order. ExternalOid is a
// client-chosen order identifier; when left empty the REST client generates
// one.
type SubmitOrderRequest struct {
	Symbol          string           `json:"symbol"`
	Price           decimal.Decimal  `json:"price"`
	Vol             decimal.Decimal  `json:"vol"`
	Side            OrderSide        `json:"side"`
	Type            OrderType        `json:"type"`
	OpenType        OpenType         `json:"openType"`
	Leverage        int              `json:"leverage,omitempty"`
	PositionID      int64            `json:"positionId,omitempty"`
	ExternalOid     string           `json:"externalOid,omitempty"`
	StopLossPrice   *decimal.Decimal `json:"stopLossPrice,omitempty"`
	TakeProfitPrice *decimal.Decimal `json:"takeProfitPrice,omitempty"`
	PositionMode    int              `json:"positionMode,omitempty"`
	ReduceOnly      bool             `json:"reduceOnly,omitempty"`
}

// CancelOrderResult is the per-order outcome of a cancel request; ErrorCode
// 0 means the order was cancelled.
type CancelOrderResult struct {
	OrderID   int64  `json:"orderId"`
	ErrorCode int    `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
}

// AssetUpdate is a private balance push for a single currency, and the
// shape returned by the account asset endpoint.
type AssetUpdate struct {
	Currency         string          `json:"currency"`
	PositionMargin   decimal.Decimal `json:"positionMargin"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	CashBalance      decimal.Decimal `json:"cashBalance"`
	FrozenBalance    decimal.Decimal `json:"frozenBalance"`
	Equity           decimal.Decimal `json:"equity"`
	Unrealized       decimal.Decimal `json:"unrealized"`
	Bonus            decimal.Decimal `json:"bonus"`
}

func (v AssetUpdate) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("[failed to stringify AssetUpdate: %s]", err)
	}

	return string(data)
}
