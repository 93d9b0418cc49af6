package protocol

// Records is a batch of serialized packets. Batching is what the whole
// pipeline works in: a replica drains a batch, a sync session feeds a batch,
// a socket writes a batch with one writev() via net.Buffers.
type Records [][]byte

func (recs Records) TotalLen() (total int64) {
	for _, r := range recs {
		total += int64(len(r))
	}
	return
}

// LastLit is the type of the last record in the batch, 0 for an empty batch.
func (recs Records) LastLit() byte {
	if len(recs) == 0 {
		return 0
	}
	return Lit(recs[len(recs)-1])
}

// Clone deep-copies the batch so the caller may reuse its buffers.
func (recs Records) Clone() Records {
	ret := make(Records, len(recs))
	for i, r := range recs {
		ret[i] = append([]byte(nil), r...)
	}
	return ret
}
