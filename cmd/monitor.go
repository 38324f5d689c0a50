package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"

	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
)

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Terminal dashboard for a running instance",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Base URL of the instance to watch",
				Value: "http://localhost:8000",
			},
		},
		Action: func(c *cli.Context) error {
			return runMonitor(c.String("addr"))
		},
	}
}

func runMonitor(addr string) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("monitor: init terminal: %w", err)
	}
	defer ui.Close()

	client := &http.Client{Timeout: 2 * time.Second}

	health := widgets.NewParagraph()
	health.Title = "Health"

	stats := widgets.NewParagraph()
	stats.Title = "Instance"

	users := widgets.NewList()
	users.Title = "Connected users"

	layout := func() {
		w, h := ui.TerminalDimensions()
		health.SetRect(0, 0, w/2, 7)
		stats.SetRect(w/2, 0, w, 7)
		users.SetRect(0, 7, w, h)
	}
	layout()

	refresh := func() {
		var hs model.HealthStatus
		if err := fetchJSON(client, addr+"/health", &hs); err != nil {
			health.Text = fmt.Sprintf("unreachable: %v", err)
		} else {
			health.Text = fmt.Sprintf("status: %s\nstream length: %d\nconsumer lag: %d",
				hs.Status, hs.StreamLength, hs.ConsumerLag)
		}

		var st model.HubStats
		if err := fetchJSON(client, addr+"/stats", &st); err != nil {
			stats.Text = fmt.Sprintf("unreachable: %v", err)
			users.Rows = nil
		} else {
			stats.Text = fmt.Sprintf("instance: %s\nconnections: %d\nuptime: %ds",
				st.InstanceID, st.LocalConnections, st.UptimeSeconds)
			users.Rows = st.Users
		}

		ui.Render(health, stats, users)
	}
	refresh()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	events := ui.PollEvents()

	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				ui.Clear()
				layout()
				refresh()
			}
		case <-ticker.C:
			refresh()
		}
	}
}

func fetchJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
