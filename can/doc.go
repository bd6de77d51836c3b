// Package can models classic CAN and CAN FD frames and their Linux SocketCAN
// wire encoding.
//
// Frames are built with NewDataFrame, NewFdDataFrame, NewRemoteFrame and
// NewErrorFrame, or obtained from Decode. Constructors treat oversized
// identifiers and payloads as programming errors and panic; NewID offers a
// checked path for untrusted input.
package can
