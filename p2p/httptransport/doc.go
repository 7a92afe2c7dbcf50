/*
Package httptransport connects the light node to full nodes over HTTP.

Requests travel as a POST to /request carrying the encoded types.Request; the
body of a 200 response is the encoded answer. Gossip flows the other way over
a websocket at /announce: the full node pushes block announcements,
justifications and commit votes as binary Messages.

The first message on every /announce connection is the announcement of the
full node's best block, which is how the light node learns the peer's height.
*/
package httptransport
