// Package nut04 contains structs as defined in [NUT-04]
//
// [NUT-04]: https://github.com/cashubtc/nuts/blob/main/04.md
package nut04

import (
	"encoding/json"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
)

type State int

const (
	Unpaid State = iota
	Paid
	Issued
	Unknown
)

func (state State) String() string {
	switch state {
	case Unpaid:
		return "UNPAID"
	case Paid:
		return "PAID"
	case Issued:
		return "ISSUED"
	default:
		return "unknown"
	}
}

func StringToState(state string) State {
	switch state {
	case "UNPAID":
		return Unpaid
	case "PAID":
		return Paid
	case "ISSUED":
		return Issued
	}
	return Unknown
}

type PostMintQuoteBolt11Request struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
}

type PostMintQuoteBolt11Response struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	State   State  `json:"state"`
	Expiry  uint64 `json:"expiry"`
}

type PostMintBolt11Request struct {
	Quote   string                `json:"quote"`
	Outputs cashu.BlindedMessages `json:"outputs"`
}

type PostMintBolt11Response struct {
	Signatures cashu.BlindedSignatures `json:"signatures"`
}

type TemporaryQuoteResponse struct {
	Quote   string `json:"quote"`
	Request string `json:"request"`
	State   string `json:"state"`
	// Deprecated: use State instead. Still set for mints
	// on the pre-state quote format
	Paid   bool   `json:"paid"`
	Expiry uint64 `json:"expiry"`
}

func (quoteResponse *PostMintQuoteBolt11Response) MarshalJSON() ([]byte, error) {
	var temp TemporaryQuoteResponse = TemporaryQuoteResponse{
		Quote:   quoteResponse.Quote,
		Request: quoteResponse.Request,
		State:   quoteResponse.State.String(),
		Paid:    quoteResponse.State == Paid,
		Expiry:  quoteResponse.Expiry,
	}
	return json.Marshal(temp)
}

func (quoteResponse *PostMintQuoteBolt11Response) UnmarshalJSON(data []byte) error {
	var temp TemporaryQuoteResponse
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	quoteResponse.Quote = temp.Quote
	quoteResponse.Request = temp.Request
	state := StringToState(temp.State)
	// older mints only signal through the paid field
	if temp.State == "" {
		if temp.Paid {
			state = Paid
		} else {
			state = Unpaid
		}
	}
	quoteResponse.State = state
	quoteResponse.Expiry = temp.Expiry

	return nil
}
