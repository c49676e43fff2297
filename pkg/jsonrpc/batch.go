package jsonrpc

// AssembleBatch builds the ordered response array for a batch request.
// resps must already be in input order with a nil entry at every
// notification slot; AssembleBatch drops those nil slots. ok reports
// whether any response entries remain — when false, the caller must emit
// HTTP 204 No Content rather than an empty JSON array.
func AssembleBatch(resps []*Response) ([]*Response, bool) {
	out := make([]*Response, 0, len(resps))
	for _, r := range resps {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, len(out) > 0
}
