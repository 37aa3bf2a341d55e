package server

// MessageHandler processes framed messages.
//
// HandleMessage is called once per message, sequentially for a connection,
// from that connection's worker goroutine. msg is only valid until the call
// returns. A handler may reply with conn.SendMessage, ask for the connection
// to be closed with conn.Close, or stop the server with conn.Server().Stop.
// It must not call WaitServer.
type MessageHandler interface {
	HandleMessage(conn *Connection, msg []byte)
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(conn *Connection, msg []byte)

// HandleMessage calls f(conn, msg).
func (f HandlerFunc) HandleMessage(conn *Connection, msg []byte) {
	f(conn, msg)
}

var nopHandler = HandlerFunc(func(*Connection, []byte) {})
