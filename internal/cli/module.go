package cli

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bibflow/bibflow/internal/record"
)

// moduleDoc is the JSON document form of a code module.
type moduleDoc struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Function string `json:"function,omitempty"`
	Script   string `json:"script,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// NewModuleCommand creates the module command group.
func NewModuleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "module",
		Short: "Manage code modules referenced by match keys",
	}

	cmd.AddCommand(newModulePutCommand(rootOpts))
	cmd.AddCommand(newModuleDeleteCommand(rootOpts))
	cmd.AddCommand(newModuleListCommand(rootOpts))

	return cmd
}

func newModulePutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <file>",
		Short: "Create or replace a code module from a JSON document",
		Long: `Create or replace a code module from a JSON document.

Example document:
  {"id": "marc", "type": "jsonpath", "script": "$.fields[*]['020'].subfields[*].a"}

The module hash is computed from the script when not given; cached
matcher instances reload when the hash changes.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read module document", err)
			}
			var doc moduleDoc
			if err := json.Unmarshal(data, &doc); err != nil {
				return WrapExitError(ExitCommandError, "invalid module document", err)
			}
			if doc.ID == "" {
				return NewExitError(ExitCommandError, "module document must include 'id'")
			}
			if doc.Type == "" {
				return NewExitError(ExitCommandError, "module document must include 'type'")
			}
			if doc.Hash == "" {
				doc.Hash = moduleHash(doc)
			}

			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(st)

			m := record.CodeModule{
				ID:       doc.ID,
				Type:     doc.Type,
				URL:      doc.URL,
				Function: doc.Function,
				Script:   doc.Script,
				Hash:     doc.Hash,
			}
			if err := st.UpsertModule(cmd.Context(), m); err != nil {
				return WrapExitError(ExitFailure, "failed to store module", err)
			}
			return formatter(opts, cmd.OutOrStdout()).Success(fmt.Sprintf("stored module %q", m.ID))
		},
	}
}

func newModuleDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a code module",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(st)

			found, err := st.DeleteModule(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "failed to delete module", err)
			}
			if !found {
				return NewExitError(ExitFailure, fmt.Sprintf("module %q not found", args[0]))
			}
			return formatter(opts, cmd.OutOrStdout()).Success(fmt.Sprintf("deleted module %q", args[0]))
		},
	}
}

func newModuleListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List code modules",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(st)

			modules, err := st.SelectModules(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list modules", err)
			}
			docs := make([]moduleDoc, 0, len(modules))
			for _, m := range modules {
				docs = append(docs, moduleDoc{
					ID:       m.ID,
					Type:     m.Type,
					URL:      m.URL,
					Function: m.Function,
					Script:   m.Script,
					Hash:     m.Hash,
				})
			}
			return formatter(opts, cmd.OutOrStdout()).Success(docs)
		},
	}
}

func moduleHash(doc moduleDoc) string {
	h := sha256.New()
	h.Write([]byte(doc.Type))
	h.Write([]byte{0})
	h.Write([]byte(doc.URL))
	h.Write([]byte{0})
	h.Write([]byte(doc.Function))
	h.Write([]byte{0})
	h.Write([]byte(doc.Script))
	return hex.EncodeToString(h.Sum(nil))
}
