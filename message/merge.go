package message

import (
	"fmt"
	"strings"
)

// PartitionBatchOrders is the fixed partition of every combined order record.
const PartitionBatchOrders = "BatchOrders"

// MergeRequest is built once per completion pass from a complete order.
// Content is filled in after the merge service answers.
type MergeRequest struct {
	OrderKey       string `json:"order_key"`
	HeaderURL      string `json:"header_url"`
	LineItemsURL   string `json:"line_items_url"`
	ProductInfoURL string `json:"product_info_url"`
	Content        string `json:"content,omitempty"`
}

// Validate checks that every source URL is present.
func (r MergeRequest) Validate() error {
	var missing []string
	if r.OrderKey == "" {
		missing = append(missing, "order key")
	}
	if r.HeaderURL == "" {
		missing = append(missing, "header url")
	}
	if r.LineItemsURL == "" {
		missing = append(missing, "line items url")
	}
	if r.ProductInfoURL == "" {
		missing = append(missing, "product info url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("merge request incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// SourceURLs returns the three source URLs in header, line items, product
// information order.
func (r MergeRequest) SourceURLs() []string {
	return []string{r.HeaderURL, r.LineItemsURL, r.ProductInfoURL}
}

// Payload returns the body the merge service expects.
func (r MergeRequest) Payload() CombineOrderContent {
	return CombineOrderContent{
		OrderHeaderDetailsCSVURL: r.HeaderURL,
		OrderLineItemsCSVURL:     r.LineItemsURL,
		ProductInformationCSVURL: r.ProductInfoURL,
	}
}

// CombineOrderContent is the JSON body POSTed to the merge service.
type CombineOrderContent struct {
	OrderHeaderDetailsCSVURL string `json:"orderHeaderDetailsCSVUrl"`
	OrderLineItemsCSVURL     string `json:"orderLineItemsCSVUrl"`
	ProductInformationCSVURL string `json:"productInformationCSVUrl"`
}

// CombinedOrderRecord is the persisted merge result, upserted by
// (PartitionKey, RowKey).
type CombinedOrderRecord struct {
	PartitionKey string `json:"partition_key"`
	RowKey       string `json:"row_key"`
	Text         string `json:"text"`
}

// NewCombinedOrderRecord builds the record for orderKey.
func NewCombinedOrderRecord(orderKey, content string) CombinedOrderRecord {
	return CombinedOrderRecord{
		PartitionKey: PartitionBatchOrders,
		RowKey:       orderKey,
		Text:         content,
	}
}
