// Package message defines the values that flow through the order join:
// the file reference parsed from a storage notification, the merge request
// built once an order is complete, the wire payload sent to the merge
// service, the persisted combined order record and the pass trigger
// envelope carried on the work stream.
//
// None of these types hold references to stores or clients; they are plain
// values that can be logged, marshalled and compared.
package message
