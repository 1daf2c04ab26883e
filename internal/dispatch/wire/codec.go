package wire

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
)

// ErrMalformed is returned for messages that decode but make no sense.
var ErrMalformed = errors.New("wire: malformed message")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		DefaultMapType:    reflect.TypeOf(map[string]any(nil)),
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes v to CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// request is the wire form of dispatch.Request.
//
//	{1: id, 2: mode, 3: target, 4: instrument, 5: op, 6: args, 7: attach, 8: reply-to}
type request struct {
	ID         uint64  `cbor:"1,keyasint"`
	Mode       uint8   `cbor:"2,keyasint"`
	Target     string  `cbor:"3,keyasint"`
	Instrument string  `cbor:"4,keyasint"`
	Op         string  `cbor:"5,keyasint"`
	Args       []any   `cbor:"6,keyasint,omitempty"`
	Attach     *attach `cbor:"7,keyasint,omitempty"`
	ReplyTo    string  `cbor:"8,keyasint"`
}

type attach struct {
	Descriptor dispatch.Descriptor `cbor:"1,keyasint"`
	Extras     map[string]any      `cbor:"2,keyasint,omitempty"`
}

// response is the wire form of dispatch.Response.
//
//	{1: id, 2: mode, 3: result, 4: error, 6: lost}
type response struct {
	ID     uint64     `cbor:"1,keyasint"`
	Mode   uint8      `cbor:"2,keyasint"`
	Result any        `cbor:"3,keyasint,omitempty"`
	Err    *errorBody `cbor:"4,keyasint,omitempty"`
	Lost   bool       `cbor:"6,keyasint,omitempty"`
}

type errorBody struct {
	Delegate   string `cbor:"1,keyasint"`
	Instrument string `cbor:"2,keyasint"`
	Op         string `cbor:"3,keyasint"`
	Kind       string `cbor:"4,keyasint"`
	Message    string `cbor:"5,keyasint"`
	Deferred   bool   `cbor:"6,keyasint,omitempty"`
}

// EncodeRequest encodes req. replyTo names the client that expects the
// response.
func EncodeRequest(req dispatch.Request, replyTo string) ([]byte, error) {
	if req.ID == 0 {
		return nil, fmt.Errorf("%w: request id 0", ErrMalformed)
	}
	w := request{
		ID:         req.ID,
		Mode:       uint8(req.Mode),
		Target:     req.Command.Target,
		Instrument: req.Command.Instrument,
		Op:         string(req.Command.Op),
		ReplyTo:    replyTo,
	}
	if req.Command.Op == dispatch.OpAttach {
		desc, extras, ok := dispatch.AttachArgs(req.Command)
		if !ok {
			return nil, fmt.Errorf("%w: attach without descriptor", ErrMalformed)
		}
		w.Attach = &attach{Descriptor: desc, Extras: extras}
	} else {
		w.Args = req.Command.Args
	}

	data, err := Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("wire: encode request %d: %w", req.ID, err)
	}
	return data, nil
}

// DecodeRequest decodes a request and the client it came from.
func DecodeRequest(data []byte) (dispatch.Request, string, error) {
	var w request
	if err := Unmarshal(data, &w); err != nil {
		return dispatch.Request{}, "", fmt.Errorf("wire: decode request: %w", err)
	}
	mode := dispatch.Mode(w.Mode)
	if w.ID == 0 || (mode != dispatch.ModeCall && mode != dispatch.ModePost) {
		return dispatch.Request{}, "", fmt.Errorf("%w: request id %d mode %d", ErrMalformed, w.ID, w.Mode)
	}

	cmd := dispatch.Command{
		Target:     w.Target,
		Instrument: w.Instrument,
		Op:         dispatch.Op(w.Op),
		Args:       w.Args,
	}
	if cmd.Op == dispatch.OpAttach {
		if w.Attach == nil {
			return dispatch.Request{}, "", fmt.Errorf("%w: attach without descriptor", ErrMalformed)
		}
		cmd = dispatch.AttachCommand(w.Attach.Descriptor, w.Attach.Extras)
	}
	return dispatch.Request{ID: w.ID, Mode: mode, Command: cmd}, w.ReplyTo, nil
}

// EncodeResponse encodes resp.
func EncodeResponse(resp dispatch.Response) ([]byte, error) {
	w := response{
		ID:     resp.ID,
		Mode:   uint8(resp.Mode),
		Result: resp.Result,
		Lost:   resp.Lost,
	}
	if resp.Err != nil {
		body := toBody(resp.Err)
		w.Err = &body
	}

	data, err := Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("wire: encode response %d: %w", resp.ID, err)
	}
	return data, nil
}

// DecodeResponse decodes a response. Errors are rebuilt so that they match
// the sentinels registered for their kinds.
func DecodeResponse(data []byte) (dispatch.Response, error) {
	var w response
	if err := Unmarshal(data, &w); err != nil {
		return dispatch.Response{}, fmt.Errorf("wire: decode response: %w", err)
	}
	if w.ID == 0 {
		return dispatch.Response{}, fmt.Errorf("%w: response id 0", ErrMalformed)
	}

	resp := dispatch.Response{
		ID:     w.ID,
		Mode:   dispatch.Mode(w.Mode),
		Result: w.Result,
		Lost:   w.Lost,
	}
	if w.Err != nil {
		resp.Err = fromBody(*w.Err)
	}
	return resp, nil
}

func toBody(e *dispatch.DelegateError) errorBody {
	return errorBody{
		Delegate:   e.Delegate,
		Instrument: e.Instrument,
		Op:         string(e.Op),
		Kind:       e.Kind,
		Message:    e.Message,
		Deferred:   e.Deferred,
	}
}

func fromBody(b errorBody) *dispatch.DelegateError {
	return dispatch.RestoreDelegateError(b.Delegate, b.Instrument, dispatch.Op(b.Op), b.Kind, b.Message, b.Deferred)
}
