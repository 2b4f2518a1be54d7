package common

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Ticker is the per-contract market summary pushed on the ticker channels.
// Prices and quantities are decimals to avoid float rounding on financial
// values.
type Ticker struct {
	Symbol        string          `json:"symbol"`
	LastPrice     decimal.Decimal `json:"lastPrice"`
	Bid1          decimal.Decimal `json:"bid1"`
	Ask1          decimal.Decimal `json:"ask1"`
	Volume24      decimal.Decimal `json:"volume24"`
	Amount24      decimal.Decimal `json:"amount24"`
	HoldVol       decimal.Decimal `json:"holdVol"`
	Lower24Price  decimal.Decimal `json:"lower24Price"`
	High24Price   decimal.Decimal `json:"high24Price"`
	RiseFallRate  decimal.Decimal `json:"riseFallRate"`
	RiseFallValue decimal.Decimal `json:"riseFallValue"`
	IndexPrice    decimal.Decimal `json:"indexPrice"`
	FairPrice     decimal.Decimal `json:"fairPrice"`
	FundingRate   decimal.Decimal `json:"fundingRate"`
	MaxBidPrice   decimal.Decimal `json:"maxBidPrice"`
	MinAskPrice   decimal.Decimal `json:"minAskPrice"`
	Timestamp     int64           `json:"timestamp"`
}

func (v Ticker) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("[failed to stringify Ticker: %s]", err)
	}

	return string(data)
}

// Deal is a single public trade. Side is 1 for a buy, 2 for a sell; the
// short field names are what the server sends.
type Deal struct {
	Price     decimal.Decimal `json:"p"`
	Volume    decimal.Decimal `json:"v"`
	Side      int             `json:"T"`
	OpenType  int             `json:"O"`
	SelfDeal  int             `json:"M"`
	Timestamp int64           `json:"t"`
}

// Deal side values.
const (
	DealSideBuy  = 1
	DealSideSell = 2
)

// DepthLevel is one price level of the order book. On the wire it's a
// 2- or 3-element array: [price, volume] or [price, volume, orderCount].
type DepthLevel struct {
	Price      decimal.Decimal
	Volume     decimal.Decimal
	OrderCount int64
}

func (l *DepthLevel) UnmarshalJSON(data []byte) error {
	var parts []json.Number
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}

	if len(parts) < 2 {
		return fmt.Errorf("depth level needs at least price and volume, got %d elements", len(parts))
	}

	price, err := decimal.NewFromString(parts[0].String())
	if err != nil {
		return err
	}

	volume, err := decimal.NewFromString(parts[1].String())
	if err != nil {
		return err
	}

	l.Price = price
	l.Volume = volume
	l.OrderCount = 0

	if len(parts) > 2 {
		count, err := parts[2].Int64()
		if err != nil {
			return err
		}
		l.OrderCount = count
	}

	return nil
}

func (l DepthLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{l.Price, l.Volume, l.OrderCount})
}

// DepthUpdate is an order book update, either incremental (depth channel)
// or a full book (depth.full channel). Version increases by one with each
// incremental update; a gap means levels were missed and the book should be
// rebuilt from a fresh snapshot.
type DepthUpdate struct {
	Asks    []DepthLevel `json:"asks"`
	Bids    []DepthLevel `json:"bids"`
	Version int64        `json:"version"`
}

func (v DepthUpdate) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("[failed to stringify DepthUpdate: %s]", err)
	}

	return string(data)
}

// Kline is a single OHLC candle. The amount fields use the server's short
// names: "a" is the quote volume, "q" the base volume.
type Kline struct {
	Symbol      string          `json:"symbol"`
	Interval    string          `json:"interval"`
	OpenTime    int64           `json:"t"`
	Open        decimal.Decimal `json:"o"`
	Close       decimal.Decimal `json:"c"`
	High        decimal.Decimal `json:"h"`
	Low         decimal.Decimal `json:"l"`
	Amount      decimal.Decimal `json:"a"`
	Volume      decimal.Decimal `json:"q"`
	RealOpen    decimal.Decimal `json:"ro"`
	RealClose   decimal.Decimal `json:"rc"`
	RealHighest decimal.Decimal `json:"rh"`
	RealLowest  decimal.Decimal `json:"rl"`
}

// KlineIntervals lists every interval accepted by the kline channel.
var KlineIntervals = []string{
	"Min1",
	"Min5",
	"Min15",
	"Min30",
	"Min60",
	"Hour4",
	"Hour8",
	"Day1",
	"Week1",
	"Month1",
}

// FundingRate is pushed on funding rate settlement changes.
type FundingRate struct {
	Symbol         string          `json:"symbol"`
	Rate           decimal.Decimal `json:"fundingRate"`
	MaxFundingRate decimal.Decimal `json:"maxFundingRate"`
	MinFundingRate decimal.Decimal `json:"minFundingRate"`
	CollectCycle   int             `json:"collectCycle"`
	NextSettleTime int64           `json:"nextSettleTime"`
	Timestamp      int64           `json:"timestamp"`
}

// IndexPrice carries the index (or fair) price for a contract.
type IndexPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// ContractDetail describes a futures contract as returned by the contract
// detail endpoint. State is 0=enabled, 1=delivery, 2=completed, 3=offline,
// 4=paused.
type ContractDetail struct {
	Symbol                string          `json:"symbol"`
	DisplayName           string          `json:"displayName"`
	DisplayNameEn         string          `json:"displayNameEn"`
	PositionOpenType      int             `json:"positionOpenType"`
	BaseCoin              string          `json:"baseCoin"`
	QuoteCoin             string          `json:"quoteCoin"`
	SettleCoin            string          `json:"settleCoin"`
	ContractSize          decimal.Decimal `json:"contractSize"`
	MinLeverage           int             `json:"minLeverage"`
	MaxLeverage           int             `json:"maxLeverage"`
	PriceScale            int             `json:"priceScale"`
	VolScale              int             `json:"volScale"`
	AmountScale           int             `json:"amountScale"`
	PriceUnit             decimal.Decimal `json:"priceUnit"`
	VolUnit               decimal.Decimal `json:"volUnit"`
	MinVol                decimal.Decimal `json:"minVol"`
	MaxVol                decimal.Decimal `json:"maxVol"`
	BidLimitPriceRate     decimal.Decimal `json:"bidLimitPriceRate"`
	AskLimitPriceRate     decimal.Decimal `json:"askLimitPriceRate"`
	TakerFeeRate          decimal.Decimal `json:"takerFeeRate"`
	MakerFeeRate          decimal.Decimal `json:"makerFeeRate"`
	MaintenanceMarginRate decimal.Decimal `json:"maintenanceMarginRate"`
	InitialMarginRate     decimal.Decimal `json:"initialMarginRate"`
	RiskBaseVol           decimal.Decimal `json:"riskBaseVol"`
	RiskIncrVol           decimal.Decimal `json:"riskIncrVol"`
	RiskIncrMmr           decimal.Decimal `json:"riskIncrMmr"`
	RiskIncrImr           decimal.Decimal `json:"riskIncrImr"`
	RiskLevelLimit        int             `json:"riskLevelLimit"`
	State                 int             `json:"state"`
	IsNew                 bool            `json:"isNew"`
	IsHot                 bool            `json:"isHot"`
	IsHidden              bool            `json:"isHidden"`
	APIAllowed            bool            `json:"apiAllowed"`
}
