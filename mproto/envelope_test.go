package mproto_test

import (
	"testing"

	"github.com/gordian-engine/murmur/mproto"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_flattensHeader(t *testing.T) {
	t.Parallel()

	body := mproto.NewReadOK(nil)
	body.MsgID = 7
	body.InReplyTo = 3

	e, err := mproto.NewEnvelope("n1", "c1", body)
	require.NoError(t, err)

	require.Equal(t, "n1", e.Src)
	require.Equal(t, "c1", e.Dest)
	require.JSONEq(t, `{"type":"read_ok","msg_id":7,"in_reply_to":3,"messages":[]}`, string(e.Body))

	h, err := e.Header()
	require.NoError(t, err)
	require.Equal(t, mproto.Header{Type: "read_ok", MsgID: 7, InReplyTo: 3}, h)
	require.True(t, h.IsReply())
}

func TestNewEnvelope_omitsUnsetIDs(t *testing.T) {
	t.Parallel()

	e, err := mproto.NewEnvelope("n1", "n2", mproto.NewBroadcast(42))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"broadcast","message":42}`, string(e.Body))
}

func TestNewEnvelope_requiresType(t *testing.T) {
	t.Parallel()

	_, err := mproto.NewEnvelope("n1", "n2", &mproto.BroadcastOK{})
	require.Error(t, err)
}

func TestEnvelope_DecodeBody(t *testing.T) {
	t.Parallel()

	e, err := mproto.NewEnvelope("n1", "c1", mproto.NewError(mproto.CodeMalformedRequest, "bad"))
	require.NoError(t, err)

	var got mproto.Error
	require.NoError(t, e.DecodeBody(&got))
	require.Equal(t, mproto.CodeMalformedRequest, got.Code)
	require.Equal(t, "bad", got.Text)
	require.EqualError(t, &got, "error malformed-request: bad")
	require.True(t, got.Code.Definite())
	require.False(t, mproto.CodeTimeout.Definite())
}
