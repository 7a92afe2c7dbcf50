package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/josepot/smoldot/libs/log"
	rpctypes "github.com/josepot/smoldot/rpc/jsonrpc/types"
)

// RegisterRPCFuncs adds a JSON-RPC handler for every function in funcMap at
// the root path of mux.
func RegisterRPCFuncs(mux *http.ServeMux, funcMap map[string]*RPCFunc, logger log.Logger) {
	mux.HandleFunc("/", handleInvalidJSONRPCPaths(makeJSONRPCHandler(funcMap, logger)))
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// RPCFunc contains the introspected type information for a function.
type RPCFunc struct {
	f     reflect.Value // underlying rpc function
	param reflect.Type  // the parameter struct, or nil
}

// NewRPCFunc constructs an RPCFunc for f, which must have one of the forms:
//
//	func(context.Context) (R, error)
//	func(context.Context, *Args) (R, error)
//
// Args is a struct decoded from the request parameters, given either as a
// JSON object or as an array matching the order of the struct fields.
// It panics if f does not have one of these forms.
func NewRPCFunc(f interface{}) *RPCFunc {
	rf, err := newRPCFunc(f)
	if err != nil {
		panic("invalid RPC function: " + err.Error())
	}
	return rf
}

func newRPCFunc(f interface{}) (*RPCFunc, error) {
	ft := reflect.TypeOf(f)
	if ft == nil || ft.Kind() != reflect.Func {
		return nil, errors.New("not a function")
	}
	if np := ft.NumIn(); np == 0 || np > 2 {
		return nil, fmt.Errorf("wrong number of parameters: %d", np)
	} else if ft.In(0) != ctxType {
		return nil, errors.New("first parameter is not context.Context")
	} else if np == 2 && (ft.In(1).Kind() != reflect.Ptr || ft.In(1).Elem().Kind() != reflect.Struct) {
		return nil, fmt.Errorf("parameter type %v is not a pointer to struct", ft.In(1))
	}
	if no := ft.NumOut(); no != 2 {
		return nil, fmt.Errorf("wrong number of results: %d", no)
	} else if ft.Out(1) != errType {
		return nil, fmt.Errorf("second result is %v, not error", ft.Out(1))
	}

	rf := &RPCFunc{f: reflect.ValueOf(f)}
	if ft.NumIn() == 2 {
		rf.param = ft.In(1).Elem()
	}
	return rf, nil
}

// Call parses params and invokes the function.
func (rf *RPCFunc) Call(ctx context.Context, params json.RawMessage) (interface{}, error) {
	args, err := rf.parseParams(ctx, params)
	if err != nil {
		return nil, rpctypes.WithCode(rpctypes.CodeInvalidParams, err)
	}
	out := rf.f.Call(args)
	if err := out[1].Interface(); err != nil {
		return nil, err.(error)
	}
	return out[0].Interface(), nil
}
