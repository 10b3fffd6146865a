// Package client is a stateless adapter for the mint HTTP API.
// Every call runs with a bounded timeout. Only lookups (info, keys,
// quote state, checkstate) are retried on transport errors; mint, melt
// and swap submissions are never blindly retried since they are not
// idempotent -- callers re-check quote state instead.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut01"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut02"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut03"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut04"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut05"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut06"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut07"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut09"
)

const (
	requestTimeout = 10 * time.Second
	// melt blocks on the mint routing a Lightning payment
	meltTimeout = 60 * time.Second
)

var (
	// ErrMintUnreachable wraps transport-level failures. Retryable.
	ErrMintUnreachable = errors.New("mint unreachable")

	// ErrProtocol signals a response the wallet could not parse.
	ErrProtocol = errors.New("malformed response from mint")

	httpClient = &http.Client{Timeout: requestTimeout}
	meltClient = &http.Client{Timeout: meltTimeout}
)

func GetMintInfo(ctx context.Context, mintURL string) (*nut06.MintInfo, error) {
	var mintInfo nut06.MintInfo
	if err := get(ctx, mintURL+"/v1/info", &mintInfo); err != nil {
		return nil, err
	}
	return &mintInfo, nil
}

func GetActiveKeysets(ctx context.Context, mintURL string) (*nut01.GetKeysResponse, error) {
	var keysetRes nut01.GetKeysResponse
	if err := get(ctx, mintURL+"/v1/keys", &keysetRes); err != nil {
		return nil, err
	}
	return &keysetRes, nil
}

func GetAllKeysets(ctx context.Context, mintURL string) (*nut02.GetKeysetsResponse, error) {
	var keysetsRes nut02.GetKeysetsResponse
	if err := get(ctx, mintURL+"/v1/keysets", &keysetsRes); err != nil {
		return nil, err
	}
	return &keysetsRes, nil
}

func GetKeysetById(ctx context.Context, mintURL, id string) (*nut01.GetKeysResponse, error) {
	var keysetRes nut01.GetKeysResponse
	if err := get(ctx, mintURL+"/v1/keys/"+id, &keysetRes); err != nil {
		return nil, err
	}
	return &keysetRes, nil
}

func PostMintQuoteBolt11(ctx context.Context, mintURL string, mintQuoteRequest nut04.PostMintQuoteBolt11Request) (
	*nut04.PostMintQuoteBolt11Response, error) {
	var reqMintResponse nut04.PostMintQuoteBolt11Response
	if err := post(ctx, httpClient, mintURL+"/v1/mint/quote/"+cashu.BOLT11_METHOD, mintQuoteRequest, &reqMintResponse); err != nil {
		return nil, err
	}
	return &reqMintResponse, nil
}

func GetMintQuoteState(ctx context.Context, mintURL, quoteId string) (*nut04.PostMintQuoteBolt11Response, error) {
	var mintQuoteResponse nut04.PostMintQuoteBolt11Response
	if err := get(ctx, mintURL+"/v1/mint/quote/"+cashu.BOLT11_METHOD+"/"+quoteId, &mintQuoteResponse); err != nil {
		return nil, err
	}
	return &mintQuoteResponse, nil
}

func PostMintBolt11(ctx context.Context, mintURL string, mintRequest nut04.PostMintBolt11Request) (
	*nut04.PostMintBolt11Response, error) {
	var mintResponse nut04.PostMintBolt11Response
	if err := post(ctx, httpClient, mintURL+"/v1/mint/"+cashu.BOLT11_METHOD, mintRequest, &mintResponse); err != nil {
		return nil, err
	}
	return &mintResponse, nil
}

func PostSwap(ctx context.Context, mintURL string, swapRequest nut03.PostSwapRequest) (*nut03.PostSwapResponse, error) {
	var swapResponse nut03.PostSwapResponse
	if err := post(ctx, httpClient, mintURL+"/v1/swap", swapRequest, &swapResponse); err != nil {
		return nil, err
	}
	return &swapResponse, nil
}

func PostMeltQuoteBolt11(ctx context.Context, mintURL string, meltQuoteRequest nut05.PostMeltQuoteBolt11Request) (
	*nut05.PostMeltQuoteBolt11Response, error) {
	var meltQuoteResponse nut05.PostMeltQuoteBolt11Response
	if err := post(ctx, httpClient, mintURL+"/v1/melt/quote/"+cashu.BOLT11_METHOD, meltQuoteRequest, &meltQuoteResponse); err != nil {
		return nil, err
	}
	return &meltQuoteResponse, nil
}

func GetMeltQuoteState(ctx context.Context, mintURL, quoteId string) (*nut05.PostMeltQuoteBolt11Response, error) {
	var meltQuoteResponse nut05.PostMeltQuoteBolt11Response
	if err := get(ctx, mintURL+"/v1/melt/quote/"+cashu.BOLT11_METHOD+"/"+quoteId, &meltQuoteResponse); err != nil {
		return nil, err
	}
	return &meltQuoteResponse, nil
}

func PostMeltBolt11(ctx context.Context, mintURL string, meltRequest nut05.PostMeltBolt11Request) (
	*nut05.PostMeltQuoteBolt11Response, error) {
	var meltResponse nut05.PostMeltQuoteBolt11Response
	if err := post(ctx, meltClient, mintURL+"/v1/melt/"+cashu.BOLT11_METHOD, meltRequest, &meltResponse); err != nil {
		return nil, err
	}
	return &meltResponse, nil
}

func PostCheckProofState(ctx context.Context, mintURL string, stateRequest nut07.PostCheckStateRequest) (
	*nut07.PostCheckStateResponse, error) {
	var stateResponse nut07.PostCheckStateResponse
	if err := post(ctx, httpClient, mintURL+"/v1/checkstate", stateRequest, &stateResponse); err != nil {
		return nil, err
	}
	return &stateResponse, nil
}

func PostRestore(ctx context.Context, mintURL string, restoreRequest nut09.PostRestoreRequest) (
	*nut09.PostRestoreResponse, error) {
	var restoreResponse nut09.PostRestoreResponse
	if err := post(ctx, httpClient, mintURL+"/v1/restore", restoreRequest, &restoreResponse); err != nil {
		return nil, err
	}
	return &restoreResponse, nil
}

func get(ctx context.Context, url string, result any) error {
	err := doGet(ctx, url, result)
	// lookups are idempotent, retry once on transport failure
	if err != nil && errors.Is(err, ErrMintUnreachable) && ctx.Err() == nil {
		err = doGet(ctx, url, result)
	}
	return err
}

func doGet(ctx context.Context, url string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMintUnreachable, err)
	}
	defer resp.Body.Close()

	return parse(resp, result)
}

func post(ctx context.Context, client *http.Client, url string, payload, result any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("json.Marshal: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMintUnreachable, err)
	}
	defer resp.Body.Close()

	return parse(resp, result)
}

func parse(response *http.Response, result any) error {
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if response.StatusCode == http.StatusBadRequest {
		var errResponse cashu.Error
		if err := json.Unmarshal(body, &errResponse); err != nil {
			return fmt.Errorf("could not decode error response from mint: %v", err)
		}
		return errResponse
	}

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("mint responded with %v: %s", response.StatusCode, body)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	return nil
}
