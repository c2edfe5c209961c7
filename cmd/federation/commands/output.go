package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/tendant/simple-federation/pkg/federation"
	"golang.org/x/term"
)

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// printUsers writes one row per user
func printUsers(ctx context.Context, w io.Writer, users []*federation.UserAdapter) error {
	table := newTable(w)
	table.SetHeader([]string{"ID", "Username", "Email", "Phone", "Created"})
	for _, u := range users {
		phone, err := u.FirstAttribute(ctx, federation.PhoneAttribute)
		if err != nil {
			return err
		}
		created := ""
		if !u.CreatedAt().IsZero() {
			created = u.CreatedAt().Format(time.RFC3339)
		}
		table.Append([]string{u.ID(), u.Username(), u.Email(), phone, created})
	}
	table.Render()
	return nil
}

// printAttributes writes one row per attribute value
func printAttributes(w io.Writer, attrs map[string][]string) {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	table := newTable(w)
	table.SetHeader([]string{"Attribute", "Value"})
	for _, name := range names {
		for _, v := range attrs[name] {
			table.Append([]string{name, v})
		}
	}
	table.Render()
}

// promptPassword reads a password without echo when stdin is a terminal
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(password), nil
	}

	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(password, "\r\n"), nil
}
