package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	// Registered for their topic definitions.
	_ "github.com/nfrund/roomchat/internal/presence"
	_ "github.com/nfrund/roomchat/internal/websocket"

	"github.com/nfrund/roomchat/internal/topicmgr"
)

var (
	topicsFormat string
	topicsScope  string
	topicsModule string
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Explore the event topics used by the server",
	Long: `Inspect the topics carried on the local bus and the cross-instance broker.

Examples:
  roomchat topics list
  roomchat topics list --scope framework --format json
  roomchat topics get presence.user.online
  roomchat topics validate chat.room.general`,
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered topics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := filterTopics(topicmgr.Default(), topicsModule, topicsScope)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No topics found")
			return nil
		}
		switch topicsFormat {
		case "json":
			return writeTopicsJSON(out, list)
		case "table":
			writeTopicsTable(out, list)
			return nil
		default:
			return fmt.Errorf("unsupported output format %q; use table or json", topicsFormat)
		}
	},
}

var topicsGetCmd = &cobra.Command{
	Use:   "get <topic-name>",
	Short: "Show one topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, ok := topicmgr.Default().Get(args[0])
		if !ok {
			return fmt.Errorf("topic %q not found", args[0])
		}
		return writeTopicsJSON(cmd.OutOrStdout(), []topicmgr.Topic{topic})
	},
}

var topicsValidateCmd = &cobra.Command{
	Use:   "validate <topic-name>",
	Short: "Check a topic name against the naming rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := topicmgr.Default().ValidateTopicName(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
		return nil
	},
}

func filterTopics(m *topicmgr.Manager, module, scope string) ([]topicmgr.Topic, error) {
	var list []topicmgr.Topic
	switch {
	case module != "":
		list = m.ListByModule(module)
	default:
		list = m.List()
	}
	if scope != "" {
		s, err := parseScope(scope)
		if err != nil {
			return nil, err
		}
		kept := list[:0:0]
		for _, t := range list {
			if t.Scope() == s {
				kept = append(kept, t)
			}
		}
		list = kept
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list, nil
}

func parseScope(s string) (topicmgr.TopicScope, error) {
	switch strings.ToLower(s) {
	case "framework":
		return topicmgr.ScopeFramework, nil
	case "module":
		return topicmgr.ScopeModule, nil
	default:
		return "", fmt.Errorf("invalid scope %q; valid scopes are framework and module", s)
	}
}

type topicView struct {
	Name        string         `json:"name"`
	Module      string         `json:"module,omitempty"`
	Scope       string         `json:"scope"`
	Description string         `json:"description"`
	Pattern     string         `json:"pattern,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func writeTopicsJSON(w io.Writer, list []topicmgr.Topic) error {
	views := make([]topicView, 0, len(list))
	for _, t := range list {
		views = append(views, topicView{
			Name:        t.Name(),
			Module:      t.Module(),
			Scope:       string(t.Scope()),
			Description: t.Description(),
			Pattern:     t.Pattern(),
			Metadata:    t.Metadata(),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func writeTopicsTable(w io.Writer, list []topicmgr.Topic) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCOPE\tMODULE\tDESCRIPTION")
	for _, t := range list {
		module := t.Module()
		if module == "" {
			module = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name(), t.Scope(), module, t.Description())
	}
	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d topics\n", len(list))
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.AddCommand(topicsListCmd, topicsGetCmd, topicsValidateCmd)

	topicsListCmd.Flags().StringVarP(&topicsFormat, "format", "f", "table", "Output format (table, json)")
	topicsListCmd.Flags().StringVarP(&topicsScope, "scope", "s", "", "Filter by scope (framework, module)")
	topicsListCmd.Flags().StringVarP(&topicsModule, "module", "m", "", "Filter by module name")
}
