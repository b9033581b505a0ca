// Package peer runs the command protocol over one connection.
//
// A Peer reads frames sequentially, reassembles and validates
// transmissions, executes inbound command requests on their own
// goroutines and correlates responses to outbound invocations.
// Either side of a connection can register and invoke commands.
package peer
