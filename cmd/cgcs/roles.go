// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jllopis/cgcs/pkg/roles"
)

func newRolesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "Print the role catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := roles.CanonicalRegistry()
			if a.cfg.Roles.Catalog != "" {
				var err error
				if reg, err = roles.LoadCatalog(a.cfg.Roles.Catalog); err != nil {
					return NewConfigError(err, a.cfg.Roles.Catalog)
				}
			}
			out := cmd.OutOrStdout()
			if a.flags.JSON {
				specs := make([]roles.SpecConfig, 0, len(reg.Names()))
				for _, s := range reg.Specs() {
					specs = append(specs, s.Config())
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(specs)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tCOST\tCONSENT\tMIN RESOURCE\tACTIONS\tEXCLUSIVE WITH")
			for _, s := range reg.Specs() {
				fmt.Fprintf(w, "%s\t%.2f\t%t\t%.2f\t%s\t%s\n",
					s.Name(), s.Cost(), s.RequiresConsent(), s.MinResource(),
					dash(strings.Join(s.AllowedActions(), ",")),
					dash(strings.Join(s.ExclusiveWith(), ",")),
				)
			}
			return w.Flush()
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
