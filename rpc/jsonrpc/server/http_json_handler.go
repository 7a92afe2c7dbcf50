package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/josepot/smoldot/libs/log"
	rpctypes "github.com/josepot/smoldot/rpc/jsonrpc/types"
)

// HTTP + JSON handler

func makeJSONRPCHandler(funcMap map[string]*RPCFunc, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, hreq *http.Request) {
		if hreq.Method == http.MethodGet {
			writeListOfEndpoints(w, funcMap)
			return
		}

		b, err := io.ReadAll(hreq.Body)
		if err != nil {
			writeRPCResponse(w, logger, rpctypes.RPCRequest{}.MakeErrorf(
				rpctypes.CodeInvalidRequest, "reading request body: %v", err))
			return
		}
		if len(bytes.TrimSpace(b)) == 0 {
			writeListOfEndpoints(w, funcMap)
			return
		}

		requests, err := parseRequests(b)
		if err != nil {
			writeRPCResponse(w, logger, rpctypes.RPCRequest{}.MakeErrorf(
				rpctypes.CodeParseError, "decoding request: %v", err))
			return
		}

		var responses []rpctypes.RPCResponse
		for _, req := range requests {
			// Ignore notifications, which this service does not support.
			if req.IsNotification() {
				logger.Debug("Ignoring notification", "req", req.String())
				continue
			}
			responses = append(responses, callFunc(hreq.Context(), funcMap, req))
		}
		if len(responses) == 0 {
			return
		}
		writeRPCResponse(w, logger, responses...)
	}
}

func callFunc(ctx context.Context, funcMap map[string]*RPCFunc, req rpctypes.RPCRequest) rpctypes.RPCResponse {
	rpcFunc, ok := funcMap[req.Method]
	if !ok {
		return req.MakeErrorf(rpctypes.CodeMethodNotFound, "%s", req.Method)
	}
	result, err := rpcFunc.Call(ctx, req.Params)
	if err != nil {
		return req.MakeError(err)
	}
	return req.MakeResponse(result)
}

func handleInvalidJSONRPCPaths(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The pattern "/" matches every path not registered elsewhere.
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		next(w, r)
	}
}

// parseRequests parses a JSON-RPC request or request batch from data.
func parseRequests(data []byte) ([]rpctypes.RPCRequest, error) {
	var reqs []rpctypes.RPCRequest
	var err error

	isArray := bytes.HasPrefix(bytes.TrimSpace(data), []byte("["))
	if isArray {
		err = json.Unmarshal(data, &reqs)
	} else {
		reqs = append(reqs, rpctypes.RPCRequest{})
		err = json.Unmarshal(data, &reqs[0])
	}
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

// parseParams parses the JSON parameters of a request into the arguments of
// the function.
func (rf *RPCFunc) parseParams(ctx context.Context, paramData []byte) ([]reflect.Value, error) {
	// If fn does not accept parameters, there is no decoding to do, but verify
	// that no parameters were passed.
	if rf.param == nil {
		base := bytes.TrimSpace(paramData)
		if len(base) != 0 && !bytes.Equal(base, []byte("null")) &&
			!bytes.Equal(base, []byte("[]")) && !bytes.Equal(base, []byte("{}")) {
			return nil, errors.New("method does not take parameters")
		}
		return []reflect.Value{reflect.ValueOf(ctx)}, nil
	}
	bits, err := rf.adjustParams(paramData)
	if err != nil {
		return nil, err
	}
	arg := reflect.New(rf.param)
	dec := json.NewDecoder(bytes.NewReader(bits))
	dec.DisallowUnknownFields()
	if err := dec.Decode(arg.Interface()); err != nil {
		return nil, err
	}
	return []reflect.Value{reflect.ValueOf(ctx), arg}, nil
}

// adjustParams checks whether data is encoded as a JSON array, and if so
// adjusts the values to match the corresponding field names.
func (rf *RPCFunc) adjustParams(data []byte) (json.RawMessage, error) {
	base := bytes.TrimSpace(data)
	if len(base) == 0 || bytes.Equal(base, []byte("null")) {
		return []byte("{}"), nil
	}
	if bytes.HasPrefix(base, []byte("[")) {
		var args []json.RawMessage
		if err := json.Unmarshal(base, &args); err != nil {
			return nil, err
		}
		names := jsonFieldNames(rf.param)
		if len(args) > len(names) {
			return nil, fmt.Errorf("got %d arguments, want at most %d", len(args), len(names))
		}
		m := make(map[string]json.RawMessage, len(args))
		for i, arg := range args {
			m[names[i]] = arg
		}
		return json.Marshal(m)
	} else if !bytes.HasPrefix(base, []byte("{")) {
		return nil, errors.New("parameters must be an object or an array")
	}
	return base, nil
}

// jsonFieldNames returns the JSON names of the exported fields of t, in
// declaration order.
func jsonFieldNames(t reflect.Type) []string {
	var names []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		name := f.Name
		if tag := f.Tag.Get("json"); tag != "" {
			tag = strings.SplitN(tag, ",", 2)[0]
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		names = append(names, name)
	}
	return names
}

func writeRPCResponse(w http.ResponseWriter, logger log.Logger, rs ...rpctypes.RPCResponse) {
	var body []byte
	var err error
	if len(rs) == 1 {
		body, err = json.Marshal(rs[0])
	} else {
		body, err = json.Marshal(rs)
	}
	if err != nil {
		logger.Error("failed to marshal RPC response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logger.Error("failed to write response", "err", err)
	}
}

// writes the sorted list of available methods as plain text
func writeListOfEndpoints(w http.ResponseWriter, funcMap map[string]*RPCFunc) {
	names := make([]string, 0, len(funcMap))
	for name := range funcMap {
		names = append(names, name)
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
}
