package protocol

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestResponse_NullIDWhenAbsent(t *testing.T) {
	data, err := json.Marshal(NewResponse(&Request{}, nil))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":null,"ok":true,"data":null,"error":null}`, string(data))
}

func TestResponse_ErrorWithoutRequest(t *testing.T) {
	data, err := json.Marshal(NewErrorResponse(nil, "invalid JSON: boom"))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":null,"ok":false,"data":null,"error":"invalid JSON: boom"}`, string(data))
}

func TestResponse_EchoesTraceID(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"id":"x","cmd":"context","trace_id":"t-1"}`))
	require.NoError(t, err)

	data, err := json.Marshal(NewResponse(req, map[string]any{"project": nil}))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"x","ok":true,"data":{"project":null},"error":null,"trace_id":"t-1"}`, string(data))
}

func TestStatusEvent_Shape(t *testing.T) {
	name := "Edit"
	data, err := json.Marshal(NewStatusEvent(CodeConnected, &ContextInfo{Project: &name}, ""))
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"status","ok":true,"code":"CONNECTED","data":{"project":"Edit","timeline":null},"error":null}`, string(data))

	data, err = json.Marshal(NewStatusEvent(CodeNoSession, nil, "No Resolve running"))
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"status","ok":false,"code":"NO_SESSION","error":"No Resolve running"}`, string(data))
}

func TestMessageEvent_Format(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 3, 7, 0, time.UTC)
	ev := NewMessageEvent(nil, at, "Created bin: FOOTAGE")
	require.Equal(t, "[09:03:07] Created bin: FOOTAGE", ev.Message)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"message","trace_id":null,"message":"[09:03:07] Created bin: FOOTAGE"}`, string(data))
}

func TestContextInfo_Equal(t *testing.T) {
	a, b := "A", "A"
	c := "C"
	require.True(t, ContextInfo{}.Equal(ContextInfo{}))
	require.True(t, ContextInfo{Project: &a}.Equal(ContextInfo{Project: &b}))
	require.False(t, ContextInfo{Project: &a}.Equal(ContextInfo{Project: &c}))
	require.False(t, ContextInfo{Project: &a}.Equal(ContextInfo{}))
}

// Responses survive a marshal/parse cycle with the same field set, and the
// id of any request is echoed verbatim.
func TestResponse_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var id string
		switch rapid.IntRange(0, 2).Draw(rt, "idKind") {
		case 0:
			id = strconv.Itoa(rapid.Int().Draw(rt, "intID"))
		case 1:
			raw, _ := json.Marshal(rapid.String().Draw(rt, "strID"))
			id = string(raw)
		default:
			id = ""
		}

		line := `{"cmd":"context"}`
		if id != "" {
			line = `{"id":` + id + `,"cmd":"context"}`
		}
		req, err := DecodeRequest([]byte(line))
		if err != nil {
			rt.Fatalf("decode %s: %v", line, err)
		}

		var resp *Response
		if rapid.Bool().Draw(rt, "ok") {
			resp = NewResponse(req, map[string]any{"n": rapid.IntRange(-1000, 1000).Draw(rt, "n")})
		} else {
			resp = NewErrorResponse(req, rapid.String().Draw(rt, "msg"))
		}

		data, err := json.Marshal(resp)
		if err != nil {
			rt.Fatalf("marshal: %v", err)
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			rt.Fatalf("unmarshal: %v", err)
		}
		for _, key := range []string{"id", "ok", "data", "error"} {
			if _, ok := fields[key]; !ok {
				rt.Fatalf("missing key %q in %s", key, data)
			}
		}
		if _, ok := fields["trace_id"]; ok {
			rt.Fatalf("unexpected trace_id in %s", data)
		}

		wantID := id
		if wantID == "" {
			wantID = "null"
		}
		var want, got any
		_ = json.Unmarshal([]byte(wantID), &want)
		_ = json.Unmarshal(fields["id"], &got)
		if !jsonEqual(want, got) {
			rt.Fatalf("id not echoed: want %s got %s", wantID, fields["id"])
		}

		var back Response
		if err := json.Unmarshal(data, &back); err != nil {
			rt.Fatalf("unmarshal response: %v", err)
		}
		if back.OK != resp.OK {
			rt.Fatalf("ok flipped")
		}
		if (back.Error == nil) != (resp.Error == nil) || (back.Error != nil && *back.Error != *resp.Error) {
			rt.Fatalf("error changed: %v vs %v", back.Error, resp.Error)
		}
	})
}

func jsonEqual(a, b any) bool {
	x, _ := json.Marshal(a)
	y, _ := json.Marshal(b)
	return string(x) == string(y)
}
