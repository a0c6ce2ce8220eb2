package event

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helltractor/trading-exchange-system/internal/trading/model"
)

func TestMarshalRoundTrip(t *testing.T) {
	e := &Event{
		SequenceID: 42,
		PreviousID: 41,
		UniqueID:   "order-abc",
		RefID:      "ref-1",
		CreateTime: 1700000000000,
		Type:       TypeOrderRequest,
		OrderRequest: &OrderRequest{
			UserID:    100,
			Direction: model.DirectionBuy,
			Price:     decimal.RequireFromString("12300.21"),
			Quantity:  decimal.RequireFromString("1.02"),
		},
	}
	data, err := Marshal(e)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, e.SequenceID, decoded.SequenceID)
	assert.Equal(t, e.PreviousID, decoded.PreviousID)
	assert.Equal(t, e.UniqueID, decoded.UniqueID)
	assert.Equal(t, e.Type, decoded.Type)
	require.NotNil(t, decoded.OrderRequest)
	assert.True(t, decoded.OrderRequest.Price.Equal(e.OrderRequest.Price))
	assert.True(t, decoded.OrderRequest.Quantity.Equal(e.OrderRequest.Quantity))
}

func TestValidateRejectsMissingPayload(t *testing.T) {
	e := &Event{Type: TypeOrderRequest}
	assert.Error(t, e.Validate())
}

func TestValidateRejectsMismatchedPayload(t *testing.T) {
	e := &Event{
		Type:        TypeOrderRequest,
		OrderCancel: &OrderCancel{UserID: 1, RefOrderID: 2},
	}
	assert.Error(t, e.Validate())
}

func TestValidateRejectsMultiplePayloads(t *testing.T) {
	e := &Event{
		Type:         TypeOrderRequest,
		OrderRequest: &OrderRequest{UserID: 1, Direction: model.DirectionBuy},
		OrderCancel:  &OrderCancel{UserID: 1, RefOrderID: 2},
	}
	assert.Error(t, e.Validate())
}

func TestValidateRejectsUnknownType(t *testing.T) {
	e := &Event{
		Type:     Type("WITHDRAW"),
		Transfer: &Transfer{FromUserID: 1, ToUserID: 2, Asset: model.AssetUSD, Amount: decimal.NewFromInt(5)},
	}
	assert.Error(t, e.Validate())
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)

	// well-formed JSON but no payload
	_, err = Unmarshal([]byte(`{"type":"ORDER_REQUEST","sequence_id":1}`))
	assert.Error(t, err)
}
