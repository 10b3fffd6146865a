// Package testutils runs an in-process mint for wallet tests. It
// implements the endpoints the wallet consumes with real blind
// signatures, so tests exercise the full crypto path without docker
// or a lightning node.
package testutils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	decodepay "github.com/nbd-wtf/ln-decodepay"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut01"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut02"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut03"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut04"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut05"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut06"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut07"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut09"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut10"
	"github.com/silentius-satoshi/ZapTok-sub006/cashu/nuts/nut11"
	"github.com/silentius-satoshi/ZapTok-sub006/crypto"
)

// Bolt11Invoice is a valid signed invoice for 250000 sats, usable
// wherever a test needs something that decodes.
const Bolt11Invoice = "lnbc2500u1pvjluezpp5qqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqqqsyqcyq5rqwzqfqypqdq5xysxxatsyp3k7enxv4jsxqzpuaztrnwngzn3kdzw5hydlzf03qdgm2hdq27cqv3agm2awhz5se903vruatfhq77w3ls4evs3ch9zw97j25emudupq63nyw24cg27h2rspfj9srp"

// FakeMint is an in-process mint backed by httptest. Lightning is
// simulated: mint quotes are paid with PayMintQuote and the melt
// outcome is set with SetMeltState.
type FakeMint struct {
	server *httptest.Server
	keyset *crypto.MintKeyset

	mu           sync.Mutex
	mintQuotes   map[string]*nut04.PostMintQuoteBolt11Response
	meltQuotes   map[string]*nut05.PostMeltQuoteBolt11Response
	spentSecrets map[string]bool
	issuedSigs   map[string]cashu.BlindedSignature
	meltState    nut05.State
}

func NewFakeMint() (*FakeMint, error) {
	seedBytes := make([]byte, 32)
	if _, err := rand.Read(seedBytes); err != nil {
		return nil, err
	}

	fm := &FakeMint{
		keyset:       crypto.GenerateMintKeyset(hex.EncodeToString(seedBytes), "0/0/0"),
		mintQuotes:   make(map[string]*nut04.PostMintQuoteBolt11Response),
		meltQuotes:   make(map[string]*nut05.PostMeltQuoteBolt11Response),
		spentSecrets: make(map[string]bool),
		issuedSigs:   make(map[string]cashu.BlindedSignature),
		meltState:    nut05.Paid,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/info", fm.mintInfo)
	mux.HandleFunc("GET /v1/keys", fm.activeKeys)
	mux.HandleFunc("GET /v1/keys/{id}", fm.keysById)
	mux.HandleFunc("GET /v1/keysets", fm.keysets)
	mux.HandleFunc("POST /v1/mint/quote/bolt11", fm.mintQuote)
	mux.HandleFunc("GET /v1/mint/quote/bolt11/{id}", fm.mintQuoteState)
	mux.HandleFunc("POST /v1/mint/bolt11", fm.mintTokens)
	mux.HandleFunc("POST /v1/swap", fm.swap)
	mux.HandleFunc("POST /v1/melt/quote/bolt11", fm.meltQuote)
	mux.HandleFunc("GET /v1/melt/quote/bolt11/{id}", fm.meltQuoteState)
	mux.HandleFunc("POST /v1/melt/bolt11", fm.melt)
	mux.HandleFunc("POST /v1/checkstate", fm.checkState)
	mux.HandleFunc("POST /v1/restore", fm.restore)

	fm.server = httptest.NewServer(mux)
	return fm, nil
}

func (fm *FakeMint) URL() string {
	return fm.server.URL
}

func (fm *FakeMint) Close() {
	fm.server.Close()
}

// PayMintQuote simulates the lightning payment for a quote arriving.
func (fm *FakeMint) PayMintQuote(quoteId string) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	quote, ok := fm.mintQuotes[quoteId]
	if !ok || quote.State != nut04.Unpaid {
		return false
	}
	quote.State = nut04.Paid
	return true
}

// SetMeltState sets the outcome every subsequent melt will report.
func (fm *FakeMint) SetMeltState(state nut05.State) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.meltState = state
}

// SettlePendingMelt moves a pending melt quote to the given terminal
// state, releasing or burning its inputs accordingly.
func (fm *FakeMint) SettlePendingMelt(quoteId string, state nut05.State) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	quote, ok := fm.meltQuotes[quoteId]
	if !ok || quote.State != nut05.Pending {
		return false
	}
	quote.State = state
	if state == nut05.Paid {
		quote.Preimage = "fakepreimage"
	}
	return true
}

func (fm *FakeMint) mintInfo(w http.ResponseWriter, r *http.Request) {
	writeJson(w, nut06.MintInfo{
		Name:    "fake mint",
		Version: "fakemint/0.1",
		Time:    time.Now().Unix(),
	})
}

func (fm *FakeMint) activeKeys(w http.ResponseWriter, r *http.Request) {
	writeJson(w, nut01.GetKeysResponse{Keysets: []nut01.Keyset{{
		Id:   fm.keyset.Id,
		Unit: fm.keyset.Unit,
		Keys: fm.keyset.PublicKeys(),
	}}})
}

func (fm *FakeMint) keysById(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("id") != fm.keyset.Id {
		writeError(w, cashu.BuildCashuError("unknown keyset", cashu.UnknownKeysetErrCode))
		return
	}
	fm.activeKeys(w, r)
}

func (fm *FakeMint) keysets(w http.ResponseWriter, r *http.Request) {
	writeJson(w, nut02.GetKeysetsResponse{Keysets: []nut02.Keyset{{
		Id:          fm.keyset.Id,
		Unit:        fm.keyset.Unit,
		Active:      true,
		InputFeePpk: fm.keyset.InputFeePpk,
	}}})
}

func (fm *FakeMint) mintQuote(w http.ResponseWriter, r *http.Request) {
	var request nut04.PostMintQuoteBolt11Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode))
		return
	}

	quoteId, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		writeError(w, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode))
		return
	}
	quote := &nut04.PostMintQuoteBolt11Response{
		Quote:   quoteId,
		Request: fmt.Sprintf("lnfake%d%s", request.Amount, quoteId),
		State:   nut04.Unpaid,
		Expiry:  uint64(time.Now().Add(time.Hour).Unix()),
	}

	fm.mu.Lock()
	fm.mintQuotes[quoteId] = quote
	fm.mu.Unlock()

	writeJson(w, quote)
}

func (fm *FakeMint) mintQuoteState(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	quote, ok := fm.mintQuotes[r.PathValue("id")]
	fm.mu.Unlock()
	if !ok {
		writeError(w, cashu.BuildCashuError("quote not found", cashu.StandardErrCode))
		return
	}
	writeJson(w, quote)
}

func (fm *FakeMint) mintTokens(w http.ResponseWriter, r *http.Request) {
	var request nut04.PostMintBolt11Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode))
		return
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	quote, ok := fm.mintQuotes[request.Quote]
	if !ok {
		writeError(w, cashu.BuildCashuError("quote not found", cashu.StandardErrCode))
		return
	}
	switch quote.State {
	case nut04.Unpaid:
		writeError(w, cashu.BuildCashuError("quote not paid", cashu.MintQuoteRequestNotPaidErrCode))
		return
	case nut04.Issued:
		writeError(w, cashu.BuildCashuError("quote already issued", cashu.MintQuoteAlreadyIssuedErrCode))
		return
	}

	// the quote amount is fixed at request time by the invoice, here
	// it is whatever the outputs ask for since the invoice is fake
	signatures, cashuErr := fm.signOutputs(request.Outputs)
	if cashuErr != nil {
		writeError(w, cashuErr)
		return
	}
	quote.State = nut04.Issued

	writeJson(w, nut04.PostMintBolt11Response{Signatures: signatures})
}

func (fm *FakeMint) swap(w http.ResponseWriter, r *http.Request) {
	var request nut03.PostSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode))
		return
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	fees := fm.feesForInputs(request.Inputs)
	if request.Inputs.Amount() < request.Outputs.Amount()+fees {
		writeError(w, cashu.BuildCashuError("inputs do not cover outputs plus fees",
			cashu.InsufficientProofAmountErrCode))
		return
	}
	if cashuErr := fm.verifyAndSpend(request.Inputs); cashuErr != nil {
		writeError(w, cashuErr)
		return
	}

	signatures, cashuErr := fm.signOutputs(request.Outputs)
	if cashuErr != nil {
		writeError(w, cashuErr)
		return
	}
	writeJson(w, nut03.PostSwapResponse{Signatures: signatures})
}

func (fm *FakeMint) meltQuote(w http.ResponseWriter, r *http.Request) {
	var request nut05.PostMeltQuoteBolt11Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode))
		return
	}

	bolt11, err := decodepay.Decodepay(request.Request)
	if err != nil {
		writeError(w, cashu.BuildCashuError("invalid invoice", cashu.MeltQuoteErrCode))
		return
	}
	amount := uint64(bolt11.MSatoshi / 1000)

	quoteId, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		writeError(w, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode))
		return
	}
	quote := &nut05.PostMeltQuoteBolt11Response{
		Quote:      quoteId,
		Amount:     amount,
		FeeReserve: amount/100 + 1,
		State:      nut05.Unpaid,
		Expiry:     uint64(time.Now().Add(time.Hour).Unix()),
	}

	fm.mu.Lock()
	fm.meltQuotes[quoteId] = quote
	fm.mu.Unlock()

	writeJson(w, quote)
}

func (fm *FakeMint) meltQuoteState(w http.ResponseWriter, r *http.Request) {
	fm.mu.Lock()
	quote, ok := fm.meltQuotes[r.PathValue("id")]
	fm.mu.Unlock()
	if !ok {
		writeError(w, cashu.BuildCashuError("quote not found", cashu.StandardErrCode))
		return
	}
	writeJson(w, quote)
}

func (fm *FakeMint) melt(w http.ResponseWriter, r *http.Request) {
	var request nut05.PostMeltBolt11Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode))
		return
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	quote, ok := fm.meltQuotes[request.Quote]
	if !ok {
		writeError(w, cashu.BuildCashuError("quote not found", cashu.StandardErrCode))
		return
	}
	if quote.State != nut05.Unpaid {
		writeError(w, cashu.BuildCashuError("melt already submitted", cashu.MeltQuotePendingErrCode))
		return
	}
	if request.Inputs.Amount() < quote.Amount {
		writeError(w, cashu.BuildCashuError("inputs below quote amount",
			cashu.InsufficientProofAmountErrCode))
		return
	}

	switch fm.meltState {
	case nut05.Paid:
		if cashuErr := fm.verifyAndSpend(request.Inputs); cashuErr != nil {
			writeError(w, cashuErr)
			return
		}
		quote.State = nut05.Paid
		quote.Preimage = "fakepreimage"
	case nut05.Pending:
		if cashuErr := fm.verifyAndSpend(request.Inputs); cashuErr != nil {
			writeError(w, cashuErr)
			return
		}
		quote.State = nut05.Pending
	default:
		// payment failed, inputs are not spent
		quote.State = nut05.Unpaid
	}

	writeJson(w, quote)
}

func (fm *FakeMint) checkState(w http.ResponseWriter, r *http.Request) {
	var request nut07.PostCheckStateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode))
		return
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	states := make([]nut07.ProofState, len(request.Ys))
	for i, Y := range request.Ys {
		state := nut07.Unspent
		if fm.spentSecrets[Y] {
			state = nut07.Spent
		}
		states[i] = nut07.ProofState{Y: Y, State: state}
	}
	writeJson(w, nut07.PostCheckStateResponse{States: states})
}

func (fm *FakeMint) restore(w http.ResponseWriter, r *http.Request) {
	var request nut09.PostRestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode))
		return
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()

	var response nut09.PostRestoreResponse
	for _, output := range request.Outputs {
		if signature, ok := fm.issuedSigs[output.B_]; ok {
			response.Outputs = append(response.Outputs, output)
			response.Signatures = append(response.Signatures, signature)
		}
	}
	writeJson(w, response)
}

// signOutputs blind-signs each output with the key for its amount and
// remembers the signature for restore. Callers must hold fm.mu.
func (fm *FakeMint) signOutputs(outputs cashu.BlindedMessages) (cashu.BlindedSignatures, *cashu.Error) {
	signatures := make(cashu.BlindedSignatures, len(outputs))
	for i, output := range outputs {
		keypair, ok := fm.keyset.Keys[output.Amount]
		if !ok {
			return nil, cashu.BuildCashuError("invalid output amount", cashu.StandardErrCode)
		}

		B_bytes, err := hex.DecodeString(output.B_)
		if err != nil {
			return nil, cashu.BuildCashuError("invalid output", cashu.StandardErrCode)
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, cashu.BuildCashuError("invalid output", cashu.StandardErrCode)
		}

		C_ := crypto.SignBlindedMessage(B_, keypair.PrivateKey)
		e, s, err := crypto.GenerateDLEQ(keypair.PrivateKey, B_, C_)
		if err != nil {
			return nil, cashu.BuildCashuError("could not generate DLEQ", cashu.StandardErrCode)
		}

		signatures[i] = cashu.BlindedSignature{
			Amount: output.Amount,
			C_:     hex.EncodeToString(C_.SerializeCompressed()),
			Id:     fm.keyset.Id,
			DLEQ: &cashu.DLEQProof{
				E: hex.EncodeToString(e.Serialize()),
				S: hex.EncodeToString(s.Serialize()),
			},
		}
		fm.issuedSigs[output.B_] = signatures[i]
	}
	return signatures, nil
}

// verifyAndSpend checks every input proof and marks it spent. The
// whole batch is rejected before any proof is marked, so a failed
// swap leaves the inputs unspent. Callers must hold fm.mu.
func (fm *FakeMint) verifyAndSpend(inputs cashu.Proofs) *cashu.Error {
	Ys := make([]string, len(inputs))
	for i, proof := range inputs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return cashu.BuildCashuError("invalid proof", cashu.InvalidProofErrCode)
		}
		Ys[i] = hex.EncodeToString(Y.SerializeCompressed())
		if fm.spentSecrets[Ys[i]] {
			return cashu.BuildCashuError("proof already used", cashu.ProofAlreadyUsedErrCode)
		}

		keypair, ok := fm.keyset.Keys[proof.Amount]
		if !ok || proof.Id != fm.keyset.Id {
			return cashu.BuildCashuError("unknown keyset", cashu.UnknownKeysetErrCode)
		}
		CBytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return cashu.BuildCashuError("invalid proof", cashu.InvalidProofErrCode)
		}
		C, err := secp256k1.ParsePubKey(CBytes)
		if err != nil {
			return cashu.BuildCashuError("invalid proof", cashu.InvalidProofErrCode)
		}
		if !crypto.Verify(proof.Secret, keypair.PrivateKey, C) {
			return cashu.BuildCashuError("invalid proof", cashu.InvalidProofErrCode)
		}

		if nut10.SecretType(proof) == nut10.P2PK {
			if cashuErr := verifyP2PKWitness(proof); cashuErr != nil {
				return cashuErr
			}
		}
	}

	for _, Y := range Ys {
		fm.spentSecrets[Y] = true
	}
	return nil
}

// verifyP2PKWitness checks the schnorr signature on a locked proof.
func verifyP2PKWitness(proof cashu.Proof) *cashu.Error {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return cashu.BuildCashuError("invalid secret", cashu.InvalidProofErrCode)
	}
	pubkey, err := nut11.ParsePublicKey(secret.Data)
	if err != nil {
		return cashu.BuildCashuError("invalid lock key", cashu.InvalidProofErrCode)
	}

	var witness nut11.P2PKWitness
	if err := json.Unmarshal([]byte(proof.Witness), &witness); err != nil || len(witness.Signatures) == 0 {
		return cashu.BuildCashuError("missing witness", cashu.InvalidProofErrCode)
	}
	signature, err := nut11.ParseSignature(witness.Signatures[0])
	if err != nil {
		return cashu.BuildCashuError("invalid witness", cashu.InvalidProofErrCode)
	}

	hash := sha256.Sum256([]byte(proof.Secret))
	if !signature.Verify(hash[:], pubkey) {
		return cashu.BuildCashuError("witness verification failed", cashu.InvalidProofErrCode)
	}
	return nil
}

// feesForInputs mirrors the wallet's fee computation.
// Callers must hold fm.mu.
func (fm *FakeMint) feesForInputs(inputs cashu.Proofs) uint64 {
	feePpk := uint64(len(inputs)) * uint64(fm.keyset.InputFeePpk)
	return (feePpk + 999) / 1000
}

func writeJson(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, cashuErr *cashu.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(cashuErr)
}
