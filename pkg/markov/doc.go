/*
Package markov provides a store-backed toolkit for building n-th order Markov
chain models over a text corpus and generating new text from them.

Text is split into tokens by a Tokenizer and normalized into symbols by a
Symbolizer. A Builder slides a window of the last `degree` symbols over each
text and records weighted state -> next-symbol transitions in a Store through
an atomic upsert. A Generator performs weighted random walks over the same
Store until it draws the terminal edge. Builder and Generator never talk to
each other; they share only the Store's schema.

Stores are provided for SQLite (SQLiteStore), Redis (package redisstore) and
process memory (MemoryStore).
*/
package markov
