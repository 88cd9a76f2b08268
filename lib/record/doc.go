/*
Package record implements dSlab's records: replicated, mutable entities whose
value is the fold of an ordered sequence of memos.

A record is created on a node (slab) which becomes its host. Every mutation is
a Memo identified by the record id and a per-record sequence number. Memos are
applied in strictly increasing sequence order, memos that arrive ahead of the
next expected number are buffered until the gap is filled.

Values are a tagged variant (see Value). A *Record handle stored in a value is
normalized into a reference and the node registers a REFERENCE peering for the
referenced record.

The replica controller embedded in Record computes how many additional
replicas a record needs and drives the eviction state machine
(active -> evicting -> retired).

Records exchange their identity and topology as an Envelope:

	{"id": "3w5e11264sgsg.1", "p": {"8211293458": "host", "1002": "replica"}}

The value is never part of the envelope.
*/
package record
