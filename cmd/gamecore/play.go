package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gamecore/internal/game"
	"gamecore/internal/gameerr"
	"gamecore/internal/model"
	"gamecore/internal/reconcile"
	"gamecore/internal/session"
)

var (
	flagOnline bool
	flagResume string
)

var playCmd = &cobra.Command{
	Use:   "play [variant]",
	Short: "Play a game",
	Long: `Start a game of the given variant.

Without --online the game is played locally against the computer and
saved after every move; resume it later with --resume <session-id>.
With --online a room is opened on the relay; share its id so others can
join, then type 'start'.

While playing:
  <n>      - Make move number n from the list
  start    - Start a waiting multiplayer game
  offline  - Abandon multiplayer games and continue locally
  q        - Leave the game

Examples:
  gamecore play tictactoe
  gamecore play connectfour --online
  gamecore play --resume 7d1c...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlay,
}

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a multiplayer room on the relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()
		s, err := a.mgr.Join(cmd.Context(), args[0], a.me())
		if err != nil {
			return err
		}
		return a.loop(cmd.Context(), s, lines(os.Stdin), cmd.OutOrStdout())
	},
}

func init() {
	playCmd.Flags().BoolVar(&flagOnline, "online", false, "Play multiplayer through the relay")
	playCmd.Flags().StringVar(&flagResume, "resume", "", "Resume a saved local session")
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, flagOnline)
	if err != nil {
		return err
	}
	defer a.Close()

	var s model.Session
	switch {
	case flagResume != "":
		s, err = a.mgr.Get(ctx, flagResume)
	case len(args) == 1:
		mode := model.ModeLocal
		if flagOnline {
			mode = model.ModeMultiplayer
		}
		s, err = a.mgr.Create(ctx, args[0], mode, a.me())
	default:
		return errors.New("name a variant or pass --resume")
	}
	if err != nil {
		return err
	}
	if s.Mode == model.ModeMultiplayer {
		fmt.Fprintf(cmd.OutOrStdout(), "room %s opened; others can run: gamecore join %s\n", s.ID, s.ID)
	}
	return a.loop(ctx, s, lines(os.Stdin), cmd.OutOrStdout())
}

// lines delivers input lines until r is exhausted.
func lines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- strings.TrimSpace(sc.Text())
		}
	}()
	return ch
}

// loop plays s interactively until it finishes or the player quits.
func (a *app) loop(ctx context.Context, s model.Session, input <-chan string, out io.Writer) error {
	me := a.me().ID
	moves := render(out, a.variants, s, me)
	for {
		if s.Finished() && !a.awaitingOffer(s) {
			return nil
		}
		var offers <-chan reconcile.Offer
		if a.policy != nil {
			offers = a.policy.Offers()
		}

		select {
		case <-ctx.Done():
			return nil
		case u := <-a.updates:
			if u.ID != s.ID || sameView(u, s) {
				continue
			}
			s = u
			moves = render(out, a.variants, s, me)
		case o := <-offers:
			if o.From != s.ID {
				continue
			}
			fmt.Fprintf(out, "lost the relay (%s); continuing against the computer\n", o.Reason)
			local, err := a.policy.Accept(ctx, o)
			if err != nil {
				return err
			}
			s = local
			moves = render(out, a.variants, s, me)
		case line, ok := <-input:
			if !ok {
				return nil
			}
			done, err := a.command(ctx, s, moves, line)
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				if errors.Is(err, gameerr.ErrSessionBusy) {
					fmt.Fprintln(out, "the computer is still thinking")
				}
			}
			if done {
				return nil
			}
		}
	}
}

// awaitingOffer reports whether s was just cut off from the relay, in
// which case a local replacement is about to be offered.
func (a *app) awaitingOffer(s model.Session) bool {
	return a.policy != nil && s.Mode == model.ModeMultiplayer &&
		(s.EndReason == model.EndConnectionLost || s.EndReason == model.EndOfflineRequested)
}

func sameView(x, y model.Session) bool {
	return x.UpdatedAt.Equal(y.UpdatedAt) && x.Status == y.Status && x.Turn == y.Turn &&
		len(x.Participants) == len(y.Participants) && bytes.Equal(x.Payload, y.Payload)
}

// command handles one input line. It reports whether the loop should end.
func (a *app) command(ctx context.Context, s model.Session, moves []game.Move, line string) (bool, error) {
	me := a.me().ID
	switch line {
	case "":
		return false, nil
	case "q", "quit":
		if _, err := a.mgr.Leave(ctx, s.ID, me); err != nil && !errors.Is(err, gameerr.ErrSessionFinished) {
			return true, err
		}
		return true, nil
	case "start":
		return false, a.mgr.Start(ctx, s.ID)
	case "offline":
		if a.policy == nil {
			return false, errors.New("not playing online")
		}
		a.policy.RequestOffline()
		return false, nil
	}

	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(moves) {
		return false, fmt.Errorf("pick a move between 1 and %d", len(moves))
	}
	_, err = a.mgr.Move(ctx, s.ID, session.Intent{PlayerID: me, Move: moves[n-1]})
	if err != nil {
		logger.Debug("move rejected", zap.String("session", s.ID), zap.Error(err))
	}
	return false, err
}
