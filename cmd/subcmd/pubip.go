package subcmd

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/scitags/ntstat-go/internal/pubip"
	"github.com/scitags/ntstat-go/types"
	"github.com/spf13/cobra"
)

func init() {
	PubIP.PersistentFlags().StringSliceVar(&stunServers, "stun-server", pubip.DefaultConfig.StunServers, "stun server URIs")
	PubIP.PersistentFlags().BoolVar(&noHTTP, "no-http", false, "don't fall back to HTTP discovery services")
}

var (
	stunServers []string
	noHTTP      bool

	PubIP = &cobra.Command{
		Use:   "pubip",
		Short: "Resolve the public addresses fireflies would be sent from.",
		Run: func(cmd *cobra.Command, args []string) {
			c := pubip.DefaultConfig
			c.StunServers = stunServers
			if noHTTP {
				c.HTTPServices = nil
			}

			m, err := pubip.NewMapper(&c)
			if err != nil {
				slog.Error("error creating the mapper", "err", err)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := m.Discover(ctx); err != nil {
				slog.Error("error discovering public addresses", "err", err)
			}

			addrs, err := net.InterfaceAddrs()
			if err != nil {
				slog.Error("error listing interface addresses", "err", err)
				return
			}

			for _, a := range addrs {
				prefix, err := netip.ParsePrefix(a.String())
				if err != nil {
					continue
				}
				addr := prefix.Addr()

				if types.IsIPLinkLocal(addr) {
					slog.Info("address is link-local", "address", addr)
					continue
				}

				pub, err := m.Lookup(addr)
				if err != nil {
					slog.Info("no public address", "address", addr, "err", err)
					continue
				}
				slog.Info("got public IP", "private", addr, "public", pub)
			}
		},
	}
)
