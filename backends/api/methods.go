package api

import (
	"cmp"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/scitags/ntstat-go/types"
)

func handleRoot(c echo.Context) error {
	cc := c.(*extendedContext)
	return c.JSONPretty(http.StatusOK, &rootResponse{
		ApiRoutes: cc.backend.server.Routes(),
	}, JSON_PRETTY_INDENT)
}

// handleFlows lists the live flows, optionally filtered by protocol and
// owning process name.
func handleFlows(c echo.Context) error {
	cc := c.(*extendedContext)

	proto := strings.ToLower(c.QueryParam("proto"))
	if proto != "" {
		if _, ok := types.ParseProtocol(proto); !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown protocol "+proto)
		}
	}
	process := c.QueryParam("process")

	flows := []flowResponse{}
	for _, s := range cc.backend.snapshot() {
		if proto != "" && s.Key.Protocol.String() != proto {
			continue
		}
		if process != "" && s.Process.Name != process {
			continue
		}
		flows = append(flows, newFlowResponse(s))
	}

	return c.JSONPretty(http.StatusOK, flows, JSON_PRETTY_INDENT)
}

// handleProcesses aggregates the live flows per owning process.
func handleProcesses(c echo.Context) error {
	cc := c.(*extendedContext)

	byPID := map[uint32]*processResponse{}
	for _, s := range cc.backend.snapshot() {
		pr, ok := byPID[s.Process.PID]
		if !ok {
			pr = &processResponse{PID: s.Process.PID, Process: s.Process.Name}
			byPID[s.Process.PID] = pr
		}
		pr.Flows++
		pr.RxBytes += s.Counters.RxBytes
		pr.TxBytes += s.Counters.TxBytes
	}

	processes := make([]processResponse, 0, len(byPID))
	for _, pr := range byPID {
		processes = append(processes, *pr)
	}
	slices.SortFunc(processes, func(a, b processResponse) int {
		return cmp.Compare(a.PID, b.PID)
	})

	return c.JSONPretty(http.StatusOK, processes, JSON_PRETTY_INDENT)
}

func handleStats(c echo.Context) error {
	cc := c.(*extendedContext)

	if cc.backend.stats == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no session statistics available")
	}

	return c.JSONPretty(http.StatusOK, newStatsResponse(cc.backend.stats(), cc.backend.len()), JSON_PRETTY_INDENT)
}
