package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ghost-agent/ghost/internal/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and extend the note store",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a fact note",
	RunE:  runMemoryAdd,
}

var memoryQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Retrieve notes by keyword overlap",
	RunE:  runMemoryQuery,
}

var (
	memContent string
	memTags    []string
	memQuery   string
	memLimit   int
)

func init() {
	memoryAddCmd.Flags().StringVar(&memContent, "content", "", "Note body (required)")
	memoryAddCmd.Flags().StringSliceVar(&memTags, "tags", nil, "Comma-separated tags")
	memoryAddCmd.MarkFlagRequired("content")

	memoryQueryCmd.Flags().StringVar(&memQuery, "q", "", "Query text (required)")
	memoryQueryCmd.Flags().IntVar(&memLimit, "limit", 3, "Maximum notes to return")
	memoryQueryCmd.MarkFlagRequired("q")

	memoryCmd.AddCommand(memoryAddCmd)
	memoryCmd.AddCommand(memoryQueryCmd)
}

func openMemory() (*memory.Store, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return memory.New(filepath.Join(cwd, "memories"))
}

func runMemoryAdd(cmd *cobra.Command, args []string) error {
	mem, err := openMemory()
	if err != nil {
		return err
	}
	meta := memory.Metadata{
		Type:       "fact",
		Tags:       memTags,
		Confidence: 0.8,
		Created:    time.Now().Format("2006-01-02"),
	}
	path, err := mem.WriteNote("facts", uuid.New().String(), memContent, meta)
	if err != nil {
		return err
	}
	fmt.Println("Saved", path)
	return nil
}

func runMemoryQuery(cmd *cobra.Command, args []string) error {
	mem, err := openMemory()
	if err != nil {
		return err
	}
	notes, err := mem.Retrieve(memQuery, memLimit)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		fmt.Println("No matching notes.")
		return nil
	}
	for i, note := range notes {
		if i > 0 {
			fmt.Println(strings.Repeat("-", 40))
		}
		fmt.Println(strings.TrimSpace(note))
	}
	return nil
}
