// Package gateway defines the Event Grid notification contract accepted by
// the ingestion endpoint and the interfaces the HTTP layer drives.
//
// Blob storage publishes one notification per uploaded file. Each POST
// carries a JSON array that must hold exactly one event. Subscription
// validation events are answered with the validation code; BlobCreated
// events for PutBlob uploads are parsed into a message.FileReference and
// handed to a Receiver. Everything else is acknowledged and dropped.
//
// The HTTP implementation lives in gateway/http.
package gateway
