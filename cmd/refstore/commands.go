package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andreyvit/refstore"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print per-table statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *refstore.Store) error {
			stats := s.Stats()
			names := make([]string, 0, len(stats))
			for name := range stats {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%-16s %v\n", name, stats[name])
			}
			fmt.Printf("size: %d bytes\n", s.DB().Size())
			return nil
		})
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the contents of every table",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := refstore.DumpAll
		if viper.GetBool("raw") {
			flags |= refstore.DumpRaw
		}
		return withStore(func(s *refstore.Store) error {
			fmt.Print(s.Dump(flags))
			return nil
		})
	},
}

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "List loaded reference streams and their processing state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var states []refstore.ProcessingState
		for _, name := range viper.GetStringSlice("state") {
			st, err := refstore.ParseProcessingState(name)
			if err != nil {
				return err
			}
			states = append(states, st)
		}
		return withStore(func(s *refstore.Store) error {
			infos, err := s.ProcessingInfos(states...)
			if err != nil {
				return err
			}
			defs := make([]refstore.RefStreamDefinition, 0, len(infos))
			for def := range infos {
				defs = append(defs, def)
			}
			sort.Slice(defs, func(i, j int) bool {
				return defs[i].String() < defs[j].String()
			})
			for _, def := range defs {
				info := infos[def]
				fmt.Printf("%v\t%v\tcreated %s\taccessed %s\n", def, info.State,
					info.CreateTime.UTC().Format(time.RFC3339), info.LastAccessedTime.UTC().Format(time.RFC3339))
			}
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Look up a key (or a numeric range point) in a map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := mapDefinition()
		if err != nil {
			return err
		}
		return withStore(func(s *refstore.Store) error {
			v, found, err := s.GetValue(def, args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%q not found in %v", args[0], def)
			}
			fmt.Printf("%v\n", v)
			return nil
		})
	},
}

var loadCmd = &cobra.Command{
	Use:   "load [file]",
	Short: "Load tab-separated key/value lines into a map",
	Long: `Load tab-separated lines into a map of a reference stream, reading
standard input when no file is given. Each line is KEY<TAB>VALUE, or
FROM-TO<TAB>VALUE with --ranges. A line without a value removes the entry
when --overwrite is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := mapDefinition()
		if err != nil {
			return err
		}
		var in io.Reader = os.Stdin
		if len(args) > 0 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		return withStore(func(s *refstore.Store) error {
			counts, err := loadLines(s, def, in, viper.GetBool("ranges"), viper.GetBool("overwrite"))
			if err != nil {
				return err
			}
			fmt.Printf("puts=%d new=%d replaced=%d unchanged=%d removed=%d ignored=%d\n",
				counts.Puts, counts.NewEntries, counts.Replaced, counts.Unchanged, counts.Removed, counts.Ignored)
			return nil
		})
	},
}

func loadLines(s *refstore.Store, def refstore.MapDefinition, in io.Reader, ranges, overwrite bool) (refstore.LoaderCounts, error) {
	l := s.NewLoader(def.RefStreamDefinition, time.Now())
	defer l.Close()

	if _, err := l.Initialise(overwrite); err != nil {
		return refstore.LoaderCounts{}, err
	}

	err := putLines(l, def, in, ranges)
	state := refstore.Complete
	if err != nil {
		state = refstore.Failed
	}
	if cerr := l.Complete(state); cerr != nil && err == nil {
		err = cerr
	}
	return l.Counts(), err
}

func putLines(l *refstore.Loader, def refstore.MapDefinition, in io.Reader, ranges bool) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lineNo int
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		key, val, hasVal := strings.Cut(line, "\t")
		var v refstore.Value
		if hasVal {
			v = refstore.StringValue(val)
		}

		var err error
		if ranges {
			var r refstore.Range
			r, err = parseRange(key)
			if err == nil {
				_, err = l.PutRange(def, r, v)
			}
		} else {
			_, err = l.Put(def, key, v)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return sc.Err()
}

func parseRange(s string) (refstore.Range, error) {
	fromStr, toStr, ok := strings.Cut(s, "-")
	if !ok {
		return refstore.Range{}, fmt.Errorf("invalid range %q, wanted FROM-TO", s)
	}
	from, err := strconv.ParseInt(fromStr, 10, 64)
	if err != nil {
		return refstore.Range{}, fmt.Errorf("invalid range start %q: %w", fromStr, err)
	}
	to, err := strconv.ParseInt(toStr, 10, 64)
	if err != nil {
		return refstore.Range{}, fmt.Errorf("invalid range end %q: %w", toStr, err)
	}
	r := refstore.Range{From: from, To: to}
	return r, r.Validate()
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Purge every load of one stream part",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *refstore.Store) error {
			counts, err := s.Purge(viper.GetInt64("stream"), viper.GetInt64("part"))
			printPurgeCounts(counts)
			return err
		})
	},
}

var purgeOldCmd = &cobra.Command{
	Use:   "purge-old",
	Short: "Purge streams not accessed within --purge-age",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *refstore.Store) error {
			counts, err := s.PurgeOldData(time.Now(), viper.GetDuration("purge-age"))
			printPurgeCounts(counts)
			return err
		})
	},
}

var purgePartialCmd = &cobra.Command{
	Use:   "purge-partial",
	Short: "Purge streams left behind by interrupted loads or purges",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *refstore.Store) error {
			counts, err := s.PurgePartialLoads()
			printPurgeCounts(counts)
			return err
		})
	},
}

func printPurgeCounts(c refstore.PurgeCounts) {
	fmt.Printf("streams=%d failed=%d maps=%d entries=%d values_deleted=%d values_dereferenced=%d\n",
		c.StreamsPurged, c.StreamsFailed, c.MapsDeleted, c.EntriesDeleted, c.ValuesDeleted, c.ValuesDeReferenced)
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print store metrics in Prometheus text format",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *refstore.Store) error {
			s.WritePrometheus(os.Stdout)
			return nil
		})
	},
}

func init() {
	dumpCmd.Flags().Bool("raw", false, "print keys and values in hex")

	streamsCmd.Flags().StringSlice("state", nil, "only list streams in these states")

	setupStreamFlags(getCmd)
	getCmd.Flags().String("map", "", "map name")

	setupStreamFlags(loadCmd)
	loadCmd.Flags().String("map", "", "map name")
	loadCmd.Flags().Bool("ranges", false, "keys are FROM-TO numeric ranges")
	loadCmd.Flags().Bool("overwrite", false, "replace existing entries")

	purgeCmd.Flags().Int64("stream", 0, "stream id")
	purgeCmd.Flags().Int64("part", 0, "stream part index")
	purgeCmd.MarkFlagRequired("stream")
}
