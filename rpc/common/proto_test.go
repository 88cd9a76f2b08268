package common

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTypeJSON(t *testing.T) {
	for msgType, name := range msgTypeNames {
		data, err := json.Marshal(msgType)
		require.NoError(t, err)
		assert.Equal(t, `"`+name+`"`, string(data))

		var decoded MessageType
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, msgType, decoded)
	}

	var decoded MessageType
	assert.Error(t, json.Unmarshal([]byte(`"put"`), &decoded))
	assert.Error(t, json.Unmarshal([]byte(`3`), &decoded))
	assert.Equal(t, "unknown", MessageType(200).String())
}

func TestMessageJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(NewMemosSinceRequest("1.2", 7))
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg_type":"memosSince","record_id":"1.2","seq":7}`, string(data))
}

func TestResponseFactories(t *testing.T) {
	resp := NewTryRetireResponse(false, errors.New("boom")).WithCode(7)
	assert.Equal(t, MsgTSlabTryRetire, resp.MsgType)
	assert.Equal(t, "boom", resp.Err)
	assert.Equal(t, uint64(7), resp.Code)
	assert.False(t, resp.Ok)

	resp = NewDesiredResponse(2, nil)
	assert.Empty(t, resp.Err)
	assert.Equal(t, uint64(2), resp.Arg)

	resp = NewErrorResponse("bad request")
	assert.Equal(t, MsgTError, resp.MsgType)
	assert.Equal(t, "bad request", resp.Err)
}
