package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mukasc/genexus-ai-assistant/chat"
	"github.com/mukasc/genexus-ai-assistant/ingestion"
	"github.com/mukasc/genexus-ai-assistant/vectorindex"
)

const defaultProbeQuery = "GeneXus 18 Super Apps"

func newInspectCommand(a *app) *cobra.Command {
	var (
		query   string
		k       int
		sources int
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show index size, sources and a probe search",
		Long: `Prints the entry count, the first indexed sources and the result of a probe
search with each hit classified as WEB ARTICLE, LOCAL PDF or OTHER.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			idx, err := rt.store.Open(ctx)
			if err != nil {
				return err
			}
			defer idx.Close()

			count, err := idx.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Index:   %s (%s)\n", rt.store.Location(), rt.cfg.Index.Backend)
			fmt.Fprintf(out, "Model:   %s\n", rt.cfg.Embeddings.Model)
			fmt.Fprintf(out, "Entries: %d\n", count)

			if sources > 0 {
				list, err := idx.Sources(ctx, sources)
				if err != nil {
					return err
				}
				printSources(out, list)
			}

			if rt.catalog != nil {
				stats, err := rt.catalog.Sources(ctx, sources)
				if err != nil {
					rt.logger.Printf("read source catalog: %v", err)
				} else {
					fmt.Fprintf(out, "\nCatalog (%d sources):\n", len(stats))
					for _, s := range stats {
						fmt.Fprintf(out, "  [%s] %s (%d chunks)\n", s.Kind, s.Source, s.Chunks)
					}
				}
			}

			embedder, err := rt.Embedder()
			if err != nil {
				return err
			}
			vector, err := embedder.Embed(ctx, query)
			if err != nil {
				return fmt.Errorf("embed probe query: %w", err)
			}
			hits, err := idx.Search(ctx, vector, k)
			if err != nil {
				return fmt.Errorf("probe search: %w", err)
			}
			printProbe(out, query, k, hits)
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "query", defaultProbeQuery, "probe search query")
	cmd.Flags().IntVar(&k, "k", 10, "number of probe results")
	cmd.Flags().IntVar(&sources, "sources", 10, "number of indexed sources to list (0 hides them)")
	return cmd
}

func printSources(w io.Writer, sources []vectorindex.SourceCount) {
	fmt.Fprintf(w, "\nSources (first %d):\n", len(sources))
	for _, src := range sources {
		fmt.Fprintf(w, "  [%s] %s (%d chunks)\n", ingestion.ClassifySource(src.Source), src.Source, src.Entries)
	}
}

func printProbe(w io.Writer, query string, k int, hits []vectorindex.Hit) {
	fmt.Fprintf(w, "\nProbe search %q (k=%d): %d results\n", query, k, len(hits))
	kinds := map[ingestion.SourceKind]int{}
	for i, hit := range hits {
		kind := ingestion.ClassifySource(hit.Source())
		kinds[kind]++
		fmt.Fprintf(w, "  %2d. [%s] %.3f %s\n", i+1, kind, hit.Score, hit.Source())
		fmt.Fprintf(w, "      %s\n", chat.Preview(hit.Text, 80))
	}
	fmt.Fprintf(w, "Summary: %d web articles, %d local PDFs, %d other\n",
		kinds[ingestion.SourceWeb], kinds[ingestion.SourcePDF], kinds[ingestion.SourceOther])
}
