package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"computex/internal/common"
	"computex/internal/events"
	"computex/internal/logging"
	feed "computex/internal/net"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange event feed")
	resources := flag.String("resources", "", "Comma-separated markets to follow, e.g. cpu,gpu (default all)")
	heartbeat := flag.Duration("heartbeat", 10*time.Second, "Heartbeat interval, 0 disables")
	level := flag.String("log", "info", "Log level")
	flag.Parse()

	logging.Setup(*level, true)

	markets, err := parseResources(*resources)
	if err != nil {
		fmt.Println("Error:", err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", *serverAddr)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverAddr).Msg("failed to connect to feed")
	}
	defer conn.Close()

	if _, err := conn.Write(feed.NewSubscribe(markets...).Serialize()); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe")
	}
	log.Info().Str("server", *serverAddr).Str("resources", describeMask(markets)).Msg("subscribed")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	if *heartbeat > 0 {
		go sendHeartbeats(ctx, conn, *heartbeat)
	}

	for {
		typeOf, body, err := feed.ReadFrame(conn)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("feed connection lost")
			}
			return
		}
		if typeOf == uint16(feed.Heartbeat) {
			log.Debug().Msg("heartbeat")
			continue
		}
		ev, err := feed.DecodeEvent(typeOf, body)
		if err != nil {
			log.Warn().Err(err).Uint16("type", typeOf).Msg("skipping undecodable frame")
			continue
		}
		fmt.Printf("%s %-4s %-24s %s\n",
			ev.Time().Format(time.TimeOnly), ev.Market(), ev.Kind(), describe(ev))
	}
}

func parseResources(input string) ([]common.ResourceType, error) {
	var out []common.ResourceType
	for _, p := range strings.Split(input, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		rt, err := common.ParseResourceType(p)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, nil
}

func describeMask(markets []common.ResourceType) string {
	if len(markets) == 0 {
		return "all"
	}
	names := make([]string, len(markets))
	for i, rt := range markets {
		names[i] = rt.String()
	}
	return strings.Join(names, ",")
}

func sendHeartbeats(ctx context.Context, conn net.Conn, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := conn.Write(feed.HeartbeatFrame()); err != nil {
				log.Warn().Err(err).Msg("heartbeat failed")
				return
			}
		}
	}
}

// describe renders resource units as integers and token amounts with decimals.
func describe(ev events.Event) string {
	switch e := ev.(type) {
	case *events.Trade:
		return fmt.Sprintf("%s buys %s from %s @ %s (notional %s, fees %s/%s)",
			e.Buyer, units(e.Amount), e.Seller, common.FormatUnits(e.Price),
			common.FormatUnits(e.Notional), common.FormatUnits(e.MakerFee), common.FormatUnits(e.TakerFee))
	case *events.ComputeSwap:
		if e.IsBuy {
			return fmt.Sprintf("%s paid %s tokens for %s units (fee %s)",
				e.Account, common.FormatUnits(e.AmountIn), units(e.AmountOut), common.FormatUnits(e.Fee))
		}
		return fmt.Sprintf("%s sold %s units for %s tokens (fee %s units)",
			e.Account, units(e.AmountIn), common.FormatUnits(e.AmountOut), units(e.Fee))
	case *events.OrderCreated:
		return fmt.Sprintf("%s %s %s %s @ %s [%s]",
			e.Owner, e.OrderType, e.Side, units(e.Amount), common.FormatUnits(e.LimitPrice), e.OrderID)
	case *events.OrderFilled:
		return fmt.Sprintf("%s %s filled %s @ %s, %s total, %s [%s]",
			e.Owner, e.Side, units(e.FillAmount), common.FormatUnits(e.Price), units(e.Filled), e.Status, e.OrderID)
	case *events.OrderCancelled:
		reason := "cancelled"
		if e.Expired {
			reason = "expired"
		}
		return fmt.Sprintf("%s %s with %s remaining [%s]", e.Owner, reason, units(e.Remaining), e.OrderID)
	case *events.LiquidityAdded:
		return fmt.Sprintf("%s added %s units and %s tokens for %s shares",
			e.Provider, units(e.ResourceAmount), common.FormatUnits(e.TokenAmount), units(e.Shares))
	case *events.LiquidityRemoved:
		return fmt.Sprintf("%s burned %s shares for %s units and %s tokens",
			e.Provider, units(e.Shares), units(e.ResourceAmount), common.FormatUnits(e.TokenAmount))
	case *events.MarketHalted:
		return "halted: " + e.Reason
	case *events.FeeRateUpdated:
		return fmt.Sprintf("pool fee %d -> %d bps", e.OldBps, e.NewBps)
	case *events.CircuitBreakerUpdated:
		return fmt.Sprintf("price change %d bps, volume %s, cooldown %s",
			e.PriceChangeThresholdBps, units(e.VolumeThreshold), e.Cooldown)
	default:
		return ""
	}
}

func units(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}
