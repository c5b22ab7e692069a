// Package mergeapi calls the external order merge service.
//
// The service accepts a JSON body naming the three CSV sources of an order
// and answers 200 with the combined order. Any other status is a failure.
// 5xx, 429 and transport errors are retried with exponential backoff;
// other statuses fail on the first attempt since repeating the request will
// not change the answer.
//
// The response body is returned verbatim. The client never interprets the
// merged content.
package mergeapi
