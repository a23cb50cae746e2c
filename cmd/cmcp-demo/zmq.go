//go:build zmq

package main

import "github.com/jellysheep/vesper-libs/cmcp"

func init() {
	extraTransports["zmq"] = func() cmcp.Transport { return cmcp.NewTransportZMQ() }
}
