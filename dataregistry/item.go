// Package dataregistry implements the data plane: named typed signals,
// reader/writer handles bound to a simulation bus at tense(), and the
// queueing and fan-out semantics in between.
package dataregistry

import (
	"github.com/fep3/participant/fep3time"
	"github.com/fep3/participant/sample"
	"github.com/fep3/participant/streamtype"
)

// ItemKind distinguishes the two payload shapes a signal may carry over the
// bus, using a small tagged variant instead of an inheritance hierarchy.
type ItemKind int

const (
	ItemSample ItemKind = iota
	ItemStreamType
)

// Item is a tagged union of {sample, stream-type}, each carrying the
// receive timestamp assigned when the item arrived.
type Item struct {
	Kind        ItemKind
	ReceiveTime fep3time.Timestamp
	Sample      *sample.DataSample
	StreamType  streamtype.StreamType
}

// SampleItem wraps s as a received Item.
func SampleItem(receiveTime fep3time.Timestamp, s *sample.DataSample) Item {
	return Item{Kind: ItemSample, ReceiveTime: receiveTime, Sample: s}
}

// StreamTypeItem wraps st as a received Item.
func StreamTypeItem(receiveTime fep3time.Timestamp, st streamtype.StreamType) Item {
	return Item{Kind: ItemStreamType, ReceiveTime: receiveTime, StreamType: st}
}

// Receiver is implemented by anything a signal's fan-out can deliver items
// to: reader queues and registered listeners alike.
type Receiver interface {
	Receive(item Item)
}
