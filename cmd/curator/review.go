package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/feedcurator/internal/gate"
	"github.com/TobiSchelling/feedcurator/internal/identity"
	"github.com/TobiSchelling/feedcurator/internal/review"
	"github.com/TobiSchelling/feedcurator/internal/userstate"
)

type viewFlags struct {
	feed      string
	minScore  float64
	kind      string
	sinceDays int
	sortBy    string
	deleted   bool
	archived  bool
	unread    bool
	favorites bool
}

func (v *viewFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&v.feed, "feed", "", "Only this feed")
	f.Float64Var(&v.minScore, "min-score", 0, "Minimum relevance score")
	f.StringVar(&v.kind, "type", "", "Only this article type (news or tutorial)")
	f.IntVar(&v.sinceDays, "days", 0, "Only summaries written in the last N days")
	f.StringVar(&v.sortBy, "sort", review.SortScore, "Sort order: score or date")
	f.BoolVar(&v.deleted, "deleted", false, "Include deleted articles")
	f.BoolVar(&v.archived, "archived", false, "Include archived articles")
	f.BoolVar(&v.unread, "unread", false, "Only unread articles")
	f.BoolVar(&v.favorites, "favorites", false, "Only favorites")
}

func (v *viewFlags) filter() review.Filter {
	f := review.Filter{
		Feed:          v.feed,
		MinScore:      v.minScore,
		Type:          v.kind,
		Sort:          v.sortBy,
		ShowDeleted:   v.deleted,
		ShowArchived:  v.archived,
		UnreadOnly:    v.unread,
		FavoritesOnly: v.favorites,
	}
	if v.sinceDays > 0 {
		f.Since = time.Now().AddDate(0, 0, -v.sinceDays)
	}
	return f
}

func (v *viewFlags) load() (*userstate.Store, []*review.Article, error) {
	states, err := openStates()
	if err != nil {
		return nil, nil, err
	}
	articles, err := review.Load(openStore(), states, v.filter())
	if err != nil {
		return nil, nil, err
	}
	return states, articles, nil
}

var (
	listFlags   viewFlags
	showFlags   viewFlags
	reviewFlags viewFlags
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(markCmd)
	rootCmd.AddCommand(statsCmd)

	listFlags.register(listCmd)
	showFlags.register(showCmd)
	reviewFlags.register(reviewCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List summarized articles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, articles, err := listFlags.load()
		if err != nil {
			return err
		}
		if len(articles) == 0 {
			fmt.Println("No articles match. Run 'curator run' to fetch and summarize new ones.")
			return nil
		}

		rows := make([][]string, 0, len(articles))
		for i, a := range articles {
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				scoreText(a),
				a.Record.ArticleType,
				a.Feed,
				shorten(a.Title(), 60),
				a.ID,
				flagText(a),
			})
		}
		fmt.Println(renderTable(os.Stdout,
			[]string{"#", "Score", "Type", "Feed", "Title", "ID", "Flags"},
			rows,
			[]columnAlignment{alignRight, alignRight}))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show N",
	Short: "Print the N-th article of the list and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid article number: %s", args[0])
		}
		states, articles, err := showFlags.load()
		if err != nil {
			return err
		}
		if len(articles) == 0 {
			return review.ErrEmpty
		}
		if n < 1 || n > len(articles) {
			return fmt.Errorf("%w: %d (valid 1-%d)", review.ErrOutOfRange, n, len(articles))
		}

		// A session over just this article, so only it is marked read.
		session := review.NewSession(states, articles[n-1:n])
		a, err := session.Current()
		if err != nil {
			return err
		}
		printArticle(os.Stdout, a, n, len(articles))
		return session.Close()
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Step through summaries interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		states, articles, err := reviewFlags.load()
		if err != nil {
			return err
		}
		session := review.NewSession(states, articles)
		return runReview(session, os.Stdin, os.Stdout)
	},
}

const reviewHelp = "[n]ext [p]rev [j N] jump [r]ead toggle [f]avorite [d]elete [a]rchive [u]ndelete [q]uit"

// runReview reads one command per line until quit or end of input.
func runReview(session *review.Session, in io.Reader, out io.Writer) (err error) {
	defer func() {
		if cerr := session.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("marking article read: %w", cerr)
		}
	}()

	var a *review.Article
	a, err = session.Current()
	if errors.Is(err, review.ErrEmpty) {
		fmt.Fprintln(out, "Nothing to review.")
		return nil
	}
	printArticle(out, a, session.Position(), session.Len())

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "\n%s\n> ", reviewHelp)
		if !scanner.Scan() {
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			fields = []string{"n"}
		}

		var msg string
		switch fields[0] {
		case "n", "next":
			a, err = session.Next()
		case "p", "prev":
			a, err = session.Prev()
		case "j", "jump":
			if len(fields) < 2 {
				msg = "usage: j N"
				break
			}
			n, convErr := strconv.Atoi(fields[1])
			if convErr != nil {
				msg = "usage: j N"
				break
			}
			var next *review.Article
			next, err = session.Jump(n)
			if errors.Is(err, review.ErrOutOfRange) {
				msg, err = err.Error(), nil
				break
			}
			a = next
		case "r", "read":
			var read bool
			read, err = session.ToggleRead()
			msg = fmt.Sprintf("read: %v", read)
		case "f", "fav", "favorite":
			var fav bool
			fav, err = session.ToggleFavorite()
			msg = fmt.Sprintf("favorite: %v", fav)
		case "d", "delete":
			err = session.Delete()
			msg = "deleted"
			a = nil
		case "a", "archive":
			err = session.Archive()
			msg = "archived"
			a = nil
		case "u", "undelete":
			err = session.Undelete()
			msg = "undeleted"
		case "q", "quit":
			return nil
		default:
			msg = "unknown command " + fields[0]
		}

		if err != nil {
			return err
		}
		if msg != "" {
			fmt.Fprintln(out, msg)
		}
		if a == nil {
			// The current article left the session; show whatever moved into place.
			a, err = session.Current()
			if errors.Is(err, review.ErrEmpty) {
				fmt.Fprintln(out, "No articles left.")
				return nil
			}
			printArticle(out, a, session.Position(), session.Len())
			continue
		}
		if msg == "" {
			printArticle(out, a, session.Position(), session.Len())
		}
	}
}

func printArticle(w io.Writer, a *review.Article, pos, total int) {
	fmt.Fprintf(w, "\n[%d/%d] %s\n", pos, total, a.Title())
	fmt.Fprintf(w, "%s | score %s | %s", a.Feed, scoreText(a), a.Record.ArticleType)
	if a.Header.Published != "" {
		fmt.Fprintf(w, " | %s", a.Header.Published)
	}
	if flags := flagText(a); flags != "" {
		fmt.Fprintf(w, " | %s", flags)
	}
	fmt.Fprintln(w)
	if a.Record.URL != "" {
		fmt.Fprintln(w, a.Record.URL)
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintln(w, strings.TrimSpace(a.Body))
}

var markCmd = &cobra.Command{
	Use:       "mark ACTION ID",
	Short:     "Set user state: read, unread, favorite, delete, undelete, archive, unarchive",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"read", "unread", "favorite", "delete", "undelete", "archive", "unarchive"},
	RunE: func(cmd *cobra.Command, args []string) error {
		action, id := args[0], args[1]
		if !identity.Valid(id) {
			return fmt.Errorf("invalid article id %q", id)
		}
		states, err := openStates()
		if err != nil {
			return err
		}

		switch action {
		case "read":
			err = states.MarkRead(id)
		case "unread":
			err = states.MarkUnread(id)
		case "favorite":
			var fav bool
			if fav, err = states.ToggleFavorite(id); err == nil {
				fmt.Printf("favorite: %v\n", fav)
			}
		case "delete":
			err = states.MarkDeleted(id)
		case "undelete":
			err = states.Undelete(id)
		case "archive":
			err = states.Archive(id)
		case "unarchive":
			err = states.Unarchive(id)
		default:
			return fmt.Errorf("unknown action %q", action)
		}
		if err != nil {
			return err
		}
		logger.Debug("user state updated", "action", action, "id", id)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show reading statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		states, err := openStates()
		if err != nil {
			return err
		}
		st := states.Stats()
		counts, err := gate.New(openStore(), cfg.Relevance.Threshold).Counts("")
		if err != nil {
			return err
		}
		rows := [][]string{
			{"summarized", strconv.Itoa(counts[gate.Synthesized])},
			{"read", strconv.Itoa(st.Read)},
			{"favorites", strconv.Itoa(st.Favorite)},
			{"archived", strconv.Itoa(st.Archived)},
			{"deleted", strconv.Itoa(st.Deleted)},
		}
		fmt.Println(renderTable(os.Stdout, []string{"", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
		return nil
	},
}

func scoreText(a *review.Article) string {
	if !a.Record.Scored() {
		return "-"
	}
	return strconv.FormatFloat(a.Record.Score(), 'f', 1, 64)
}

func flagText(a *review.Article) string {
	var flags []string
	if !a.Read {
		flags = append(flags, "new")
	}
	if a.Favorite {
		flags = append(flags, "fav")
	}
	if a.Archived {
		flags = append(flags, "archived")
	}
	if a.Deleted {
		flags = append(flags, "deleted")
	}
	return strings.Join(flags, ",")
}
