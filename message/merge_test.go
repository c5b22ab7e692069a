package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeRequest_Validate(t *testing.T) {
	req := MergeRequest{OrderKey: "1", HeaderURL: "u1", LineItemsURL: "u2", ProductInfoURL: "u3"}
	assert.NoError(t, req.Validate())
	assert.Equal(t, []string{"u1", "u2", "u3"}, req.SourceURLs())

	err := MergeRequest{OrderKey: "1", HeaderURL: "u1"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line items url, product info url")
}

func TestMergeRequest_PayloadFieldNames(t *testing.T) {
	req := MergeRequest{OrderKey: "1", HeaderURL: "u1", LineItemsURL: "u2", ProductInfoURL: "u3"}

	body, err := json.Marshal(req.Payload())
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.Equal(t, map[string]string{
		"orderHeaderDetailsCSVUrl": "u1",
		"orderLineItemsCSVUrl":     "u2",
		"productInformationCSVUrl": "u3",
	}, fields)
}

func TestNewCombinedOrderRecord(t *testing.T) {
	rec := NewCombinedOrderRecord("20240101000000", `{"merged":true}`)
	assert.Equal(t, "BatchOrders", rec.PartitionKey)
	assert.Equal(t, "20240101000000", rec.RowKey)
	assert.Equal(t, `{"merged":true}`, rec.Text)
}

func TestDecodePassTrigger(t *testing.T) {
	in := PassTrigger{ID: "t1", Workflow: WorkflowCombineOrder, Key: "42", RequestedAt: time.Now().UTC()}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := DecodePassTrigger(data)
	require.NoError(t, err)
	assert.Equal(t, "42", out.Key)

	_, err = DecodePassTrigger([]byte(`{"workflow":"combineorder"}`))
	assert.Error(t, err)

	_, err = DecodePassTrigger([]byte(`not json`))
	assert.Error(t, err)
}
