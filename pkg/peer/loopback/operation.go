/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package loopback

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/discipl/ipv8-attestation/pkg/internal/cmdutil"
	"github.com/discipl/ipv8-attestation/pkg/restapi/attestation"
	"github.com/discipl/ipv8-attestation/pkg/restapi/trustchain"
)

var logger = log.New("ipv8-attestation/loopback")

const attributeValuesDelim = ","

// Operation serves the attestation control endpoint and the trustchain API of one node.
type Operation struct {
	node     *Node
	handlers []cmdutil.Handler
}

// NewOperation returns the REST operation of node.
func NewOperation(node *Node) *Operation {
	o := &Operation{node: node}
	o.registerHandler()

	return o
}

// GetRESTHandlers get all controller API handler available for this service.
func (o *Operation) GetRESTHandlers() []cmdutil.Handler {
	return o.handlers
}

func (o *Operation) registerHandler() {
	o.handlers = []cmdutil.Handler{
		cmdutil.NewHTTPHandler(attestation.Path, http.MethodGet, o.Attestation),
		cmdutil.NewHTTPHandler(attestation.Path, http.MethodPost, o.Attestation),
		cmdutil.NewHTTPHandler(trustchain.UserBlocksPath, http.MethodGet, o.UserBlocks),
		cmdutil.NewHTTPHandler(trustchain.BlockPath, http.MethodGet, o.Block),
	}
}

// Attestation swagger:route GET/POST /attestation attestation attestationQuery
//
// Answers one control query, selected by the type parameter.
func (o *Operation) Attestation(rw http.ResponseWriter, req *http.Request) {
	params := req.URL.Query()
	queryType := attestation.QueryType(params.Get(attestation.TypeParam))

	if !queryType.Known() {
		cmdutil.WriteJSON(rw, http.StatusBadRequest,
			attestation.ErrorResponse{Error: fmt.Sprintf("unknown query type %q", queryType)})

		return
	}

	if queryType.Method() != req.Method {
		cmdutil.WriteJSON(rw, http.StatusMethodNotAllowed,
			attestation.ErrorResponse{Error: fmt.Sprintf("%s must be sent with %s", queryType, queryType.Method())})

		return
	}

	logger.Debugf("%s: %s %s", o.node.Role(), req.Method, req.URL.RawQuery)

	mid := params.Get(attestation.MidParam)
	name := params.Get(attestation.AttributeNameParam)

	switch queryType {
	case attestation.Peers:
		peers := o.node.Peers()
		writeCollection(rw, len(peers), peers)
	case attestation.Outstanding:
		outstanding := o.node.Outstanding()
		writeCollection(rw, len(outstanding), outstanding)
	case attestation.OutstandingVerify:
		outstanding := o.node.OutstandingVerify()
		writeCollection(rw, len(outstanding), outstanding)
	case attestation.Attributes:
		attributes, err := o.node.Attributes(mid)
		if err != nil {
			writeError(rw, err)

			return
		}

		writeCollection(rw, len(attributes), attributes)
	case attestation.VerificationOutputQuery:
		out := o.node.VerificationOutput()
		writeCollection(rw, len(out), out)
	case attestation.Request:
		writeResult(rw, o.node.RequestAttestation(mid, name, params.Get(attestation.MetadataParam)))
	case attestation.Attest:
		writeResult(rw, o.node.Attest(mid, name, params.Get(attestation.AttributeValueParam)))
	case attestation.Verify:
		writeResult(rw, o.node.Verify(mid, params.Get(attestation.AttributeHashParam),
			splitValues(params.Get(attestation.AttributeValuesParam))))
	case attestation.AllowVerify:
		writeResult(rw, o.node.AllowVerify(mid, name))
	}
}

// UserBlocks swagger:route GET /trustchain/users/{public_key}/blocks trustchain userBlocks
//
// Lists the blocks created by a hex encoded public key.
func (o *Operation) UserBlocks(rw http.ResponseWriter, req *http.Request) {
	blocks, err := o.node.Blocks(mux.Vars(req)[trustchain.PublicKeyVar])
	if err != nil {
		writeError(rw, err)

		return
	}

	cmdutil.WriteJSON(rw, http.StatusOK, trustchain.BlocksResponse{Blocks: blocks})
}

// Block swagger:route GET /trustchain/blocks/{hash} trustchain block
//
// Returns one block by its hash.
func (o *Operation) Block(rw http.ResponseWriter, req *http.Request) {
	block, err := o.node.Block(mux.Vars(req)[trustchain.BlockHashVar])
	if err != nil {
		writeError(rw, err)

		return
	}

	cmdutil.WriteJSON(rw, http.StatusOK, trustchain.BlockResponse{Block: block})
}

// writeCollection writes v, or the empty sentinel when it holds nothing.
func writeCollection(rw http.ResponseWriter, size int, v interface{}) {
	if size == 0 {
		cmdutil.WriteRaw(rw, http.StatusOK, []byte(attestation.EmptyResult))

		return
	}

	cmdutil.WriteJSON(rw, http.StatusOK, v)
}

func writeResult(rw http.ResponseWriter, err error) {
	if err != nil {
		writeError(rw, err)

		return
	}

	cmdutil.WriteJSON(rw, http.StatusOK, attestation.SuccessResponse{Success: true})
}

func writeError(rw http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, errMissingParameter), errors.Is(err, errMalformedParameter):
		status = http.StatusBadRequest
	case errors.Is(err, errPeerNotFound), errors.Is(err, errNoOutstandingRequest),
		errors.Is(err, errNoOutstandingVerify), errors.Is(err, errUnknownAttribute),
		errors.Is(err, storage.ErrDataNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		logger.Errorf("control query failed: %v", err)
	}

	cmdutil.WriteJSON(rw, status, attestation.ErrorResponse{Error: err.Error()})
}

func splitValues(values string) []string {
	if values == "" {
		return nil
	}

	parts := strings.Split(values, attributeValuesDelim)

	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}
