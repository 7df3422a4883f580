package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func printJSON(w io.Writer, m proto.Message) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func text(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func number(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func clock(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func rows(l *structpb.ListValue) []*structpb.Struct {
	out := make([]*structpb.Struct, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		out = append(out, v.GetStructValue())
	}
	return out
}

// printList prints l as JSON or one line per row.
func printList(w io.Writer, asJSON bool, l *structpb.ListValue, empty string, line func(*structpb.Struct) string) error {
	if asJSON {
		return printJSON(w, l)
	}
	items := rows(l)
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, empty)
		return err
	}
	for _, it := range items {
		if _, err := fmt.Fprintln(w, line(it)); err != nil {
			return err
		}
	}
	return nil
}

func printReceipt(w io.Writer, asJSON bool, r *structpb.Struct) error {
	if asJSON {
		return printJSON(w, r)
	}
	_, err := fmt.Fprintf(w, "queued %s (seq %d)\n", text(r, "id"), number(r, "seq"))
	return err
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
