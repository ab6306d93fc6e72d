package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/ui"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// renderStatus colors a chip status by lifecycle phase.
func renderStatus(s model.ChipStatus) string {
	switch s {
	case model.StatusActive:
		return ui.RenderOK(s.String())
	case model.StatusReplaced, model.StatusArchived:
		return ui.RenderBad(s.String())
	case model.StatusReturnedForService, model.StatusReceivedForService:
		return ui.RenderWarn(s.String())
	default:
		return ui.RenderAccent(s.String())
	}
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func printChipTable(chip *model.Chip) {
	fmt.Printf("ID:            %s\n", chip.ID)
	fmt.Printf("UID:           %s\n", chip.UID)
	fmt.Printf("Status:        %s\n", renderStatus(chip.Status))
	if chip.CustomerRef != "" {
		fmt.Printf("Customer:      %s\n", chip.CustomerRef)
	}
	if chip.OrderRef != "" {
		fmt.Printf("Order:         %s\n", chip.OrderRef)
	}
	if chip.ControlPointRef != "" {
		fmt.Printf("Control Point: %s\n", chip.ControlPointRef)
	}
	if chip.ReplacementRef != "" {
		fmt.Printf("Replaced By:   %s\n", chip.ReplacementRef)
	}
	if chip.CreatedBy != "" {
		fmt.Printf("Created By:    %s\n", chip.CreatedBy)
	}
	fmt.Printf("Created At:    %s\n", formatTime(chip.CreatedAt))
	fmt.Printf("Updated At:    %s\n", formatTime(chip.UpdatedAt))
	if chip.EncodedAt != nil {
		fmt.Printf("Encoded At:    %s\n", formatTime(*chip.EncodedAt))
	}
	if chip.FirstScanAt != nil {
		fmt.Printf("First Scan:    %s\n", formatTime(*chip.FirstScanAt))
	}
	if chip.LastScanAt != nil {
		fmt.Printf("Last Scan:     %s\n", formatTime(*chip.LastScanAt))
	}
}

func printChipListTable(chips []*model.Chip, total int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUID\tSTATUS\tCUSTOMER\tORDER\tCONTROL POINT")
	for _, c := range chips {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			c.UID,
			renderStatus(c.Status),
			c.CustomerRef,
			c.OrderRef,
			c.ControlPointRef,
		)
	}
	w.Flush()
	fmt.Printf("\n%d chips (%d total)\n", len(chips), total)
}

func printLedgerTable(entries []*model.LedgerEntry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tFROM\tTO\tACTOR\tNOTES")
	for _, e := range entries {
		from := e.FromStatus.String()
		if from == "" {
			from = ui.RenderMuted("-")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			formatTime(e.CreatedAt),
			from,
			e.ToStatus,
			e.Actor,
			e.Notes,
		)
	}
	w.Flush()
}

func printWindowTable(win *model.ExecutionWindow) {
	fmt.Printf("ID:          %s\n", win.ID)
	fmt.Printf("Schedulable: %s\n", win.SchedulableRef)
	fmt.Printf("Chip:        %s\n", win.ChipID)
	fmt.Printf("Status:      %s\n", renderWindowStatus(win.Status))
	if win.OpenedBy != "" {
		fmt.Printf("Opened By:   %s\n", win.OpenedBy)
	}
	fmt.Printf("First Scan:  %s\n", formatTime(win.FirstScanAt))
	if win.SecondScanAt != nil {
		fmt.Printf("Second Scan: %s\n", formatTime(*win.SecondScanAt))
		fmt.Printf("Elapsed:     %s\n", win.Elapsed().Round(time.Second))
	}
	if flags := win.Flags.List(); len(flags) > 0 {
		fmt.Printf("Flags:       %s\n", ui.RenderWarn(strings.Join(flags, ", ")))
	}
	if win.AbandonReason != "" {
		fmt.Printf("Reason:      %s\n", win.AbandonReason)
	}
}

func renderWindowStatus(s model.WindowStatus) string {
	switch s {
	case model.WindowClosed:
		return ui.RenderOK(s.String())
	case model.WindowAbandoned:
		return ui.RenderBad(s.String())
	default:
		return ui.RenderAccent(s.String())
	}
}
