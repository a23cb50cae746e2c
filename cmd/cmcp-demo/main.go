// Command cmcp-demo stands up a CMCP server or client from a terminal and
// walks the handshake plus one DATA message from client to server.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jellysheep/vesper-libs/cmcp"
	"github.com/jellysheep/vesper-libs/nodeid"
	"github.com/jellysheep/vesper-libs/paramcodec"
)

// paramPayload is the DataList item id cmcp-demo uses for its
// paramcodec-encoded message body.
const paramPayload uint16 = 100

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var transportName string

	root := &cobra.Command{
		Use:   "cmcp-demo",
		Short: "Exercise a CMCP handshake and one data exchange end to end",
	}
	root.PersistentFlags().StringVar(&transportName, "transport", "mem", "transport backend: mem, ws, or zmq (zmq requires building with -tags zmq)")

	root.AddCommand(newServeCmd(&transportName), newConnectCmd(&transportName))
	return root
}

// extraTransports holds backends registered by build-tag-gated files
// (zmq.go adds "zmq" when built with -tags zmq).
var extraTransports = map[string]func() cmcp.Transport{}

func resolveTransport(name string) (cmcp.Transport, error) {
	switch name {
	case "mem":
		return cmcp.NewMemTransport(), nil
	case "ws":
		return cmcp.NewTransportWS(), nil
	}
	if mk, ok := extraTransports[name]; ok {
		return mk(), nil
	}
	return nil, fmt.Errorf("unknown transport %q (want mem or ws; build with -tags zmq for zmq)", name)
}

func newServeCmd(transportName *string) *cobra.Command {
	var pubAddr, subAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a CMCP server, printing every client announcement and message",
		RunE: func(cmd *cobra.Command, args []string) error {
			transport, err := resolveTransport(*transportName)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			srv, err := cmcp.NewServer(
				cmcp.WithServerTransport(transport),
				cmcp.WithServerLogger(logger),
				cmcp.WithOnAnnouncement(func(clientID nodeid.ID) bool {
					logger.Info("client announced", "client_id", clientID)
					return true
				}),
				cmcp.WithOnDisconnect(func(clientID nodeid.ID) {
					logger.Info("client disconnected", "client_id", clientID)
				}),
				cmcp.WithOnMessage(func(clientID nodeid.ID, command cmcp.Command, params *cmcp.DataList) {
					logger.Info("message from client", "client_id", clientID, "command", command)
					for _, item := range params.Items() {
						if item.ID != paramPayload {
							continue
						}
						body, err := paramcodec.Decode(item.Bytes)
						if err != nil {
							logger.Error("undecodable payload", "client_id", clientID, "err", err)
							continue
						}
						logger.Info("payload", "client_id", clientID, "body", body)
					}
				}),
			)
			if err != nil {
				return err
			}

			if err := srv.Bind(pubAddr, subAddr); err != nil {
				return err
			}
			defer srv.Close()

			logger.Info("server listening", "id", srv.ID(), "pub_addr", pubAddr, "sub_addr", subAddr)
			select {}
		},
	}
	cmd.Flags().StringVar(&pubAddr, "pub-addr", "cmcp-demo-pub", "address the server binds its publish endpoint on")
	cmd.Flags().StringVar(&subAddr, "sub-addr", "cmcp-demo-sub", "address the server binds its subscribe endpoint on")
	return cmd
}

func newConnectCmd(transportName *string) *cobra.Command {
	var pubAddr, subAddr string
	var message string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect a CMCP client to a server and send one data message",
		RunE: func(cmd *cobra.Command, args []string) error {
			transport, err := resolveTransport(*transportName)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			client, err := cmcp.NewClient(
				cmcp.WithClientTransport(transport),
				cmcp.WithClientLogger(logger),
				cmcp.WithClientOnMessage(func(command cmcp.Command, params *cmcp.DataList) {
					logger.Info("message from server", "command", command)
				}),
			)
			if err != nil {
				return err
			}

			if err := client.Connect(pubAddr, subAddr, 5*time.Second); err != nil {
				return err
			}
			defer client.Close()

			body, err := paramcodec.Encode(map[string]any{"text": message})
			if err != nil {
				return err
			}
			params := cmcp.NewDataList()
			if err := params.Add(paramPayload, body); err != nil {
				return err
			}
			const greet cmcp.Command = 100
			if err := client.Send(greet, params); err != nil {
				return err
			}

			logger.Info("sent message", "id", client.ID())
			time.Sleep(time.Second)
			return nil
		},
	}
	cmd.Flags().StringVar(&pubAddr, "pub-addr", "cmcp-demo-pub", "address the server's publish endpoint is bound on")
	cmd.Flags().StringVar(&subAddr, "sub-addr", "cmcp-demo-sub", "address the server's subscribe endpoint is bound on")
	cmd.Flags().StringVar(&message, "message", "hello from cmcp-demo", "payload to send as the data message")
	return cmd
}
