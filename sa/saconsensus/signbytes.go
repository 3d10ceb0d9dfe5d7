package saconsensus

import "encoding/binary"

const signBytesPrefix = "gsa/v1"

// VoteSignBytes returns the bytes a committee member signs for vote.
// Every member voting the same way in the same step signs identical bytes,
// which is what allows their signatures to be aggregated.
func VoteSignBytes(hdr Header, topic Topic, vote Vote) []byte {
	return signBytes(hdr, topic, vote.Kind, vote.Hash)
}

func signBytes(hdr Header, topic Topic, kind VoteKind, h Hash) []byte {
	b := make([]byte, 0, len(signBytesPrefix)+1+8+1+32+1+32)
	b = append(b, signBytesPrefix...)
	b = append(b, byte(topic))
	b = binary.BigEndian.AppendUint64(b, hdr.Round)
	b = append(b, hdr.Iteration)
	b = append(b, hdr.PrevBlockHash[:]...)
	b = append(b, byte(kind))
	b = append(b, h[:]...)
	return b
}
