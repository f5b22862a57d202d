package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haricheung/overseer/internal/council"
	"github.com/haricheung/overseer/internal/types"
)

func newCouncilCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "council [topic]",
		Short: "Convene the strategic council: brainstorm, critique and decree",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			a, ctx, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.requireGeneration(); err != nil {
				return err
			}
			s := council.NewSession(a.b, a.gen, a.acc, a.orch, a.runs, a.cfg.Council)
			defer s.Close()
			return councilREPL(ctx, a, s, strings.Join(args, " "))
		},
	}
}

const councilHelp = `commands by stage:
  discovery   <topic> | <n> to pick a suggestion
  assembly    add <id> | rm <id> | roster | go
  brainstorm  pin <advisor> <n> | unpin <n> | retry <advisor> | go
  critique    go | retry
  execution   run <n> | approvals
  any stage   show | restart | exit`

func councilREPL(ctx context.Context, a *app, s *council.Session, topic string) error {
	rl, err := newLineReader(a, "council> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	if topic != "" {
		report(s.SetTopic(topic))
	}
	showStage(s)

	for {
		rl.SetPrompt(fmt.Sprintf("council:%s> ", s.Stage()))
		line, ok := readLine(ctx, rl)
		if !ok {
			return nil
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "exit", "quit":
			return nil
		case "help", "?":
			fmt.Println(councilHelp)
			continue
		case "show":
			showStage(s)
			continue
		case "restart":
			s.Restart()
			showStage(s)
			continue
		}

		var stepErr error
		switch s.Stage() {
		case council.StageDiscovery:
			t := line
			if n, err := strconv.Atoi(line); err == nil {
				sug := s.Suggestions()
				if n < 1 || n > len(sug) {
					fmt.Println("no such suggestion")
					continue
				}
				t = sug[n-1]
			}
			stepErr = s.SetTopic(t)

		case council.StageAssembly:
			switch {
			case fields[0] == "add" && len(fields) > 1:
				stepErr = s.AddAdvisor(fields[1])
			case fields[0] == "rm" && len(fields) > 1:
				stepErr = s.RemoveAdvisor(fields[1])
			case fields[0] == "roster":
				for _, adv := range s.Roster() {
					fmt.Printf("  %-12s %s, %s\n", adv.ID, adv.Name, adv.Title)
				}
				continue
			case fields[0] == "go":
				fmt.Println("brainstorming...")
				stepErr = s.Brainstorm(ctx)
			default:
				stepErr = errUsage
			}

		case council.StageBrainstorm:
			switch {
			case fields[0] == "pin" && len(fields) > 2:
				n, _ := strconv.Atoi(fields[2])
				stepErr = s.Pin(fields[1], n-1)
			case fields[0] == "unpin" && len(fields) > 1:
				n, _ := strconv.Atoi(fields[1])
				stepErr = s.Unpin(n - 1)
			case fields[0] == "retry" && len(fields) > 1:
				stepErr = s.RetryProposal(ctx, fields[1])
			case fields[0] == "go":
				fmt.Println("the council convenes...")
				stepErr = s.Critique(ctx)
			default:
				stepErr = errUsage
			}

		case council.StageCritique:
			switch fields[0] {
			case "retry":
				stepErr = s.Critique(ctx)
			case "go":
				fmt.Println("drafting the decree...")
				_, stepErr = s.Decree(ctx)
			default:
				stepErr = errUsage
			}

		case council.StageExecution:
			switch {
			case fields[0] == "run" && len(fields) > 1:
				stepErr = runDecreeAction(ctx, s, fields[1])
			case fields[0] == "retry":
				_, stepErr = s.Decree(ctx)
			case fields[0] == "approvals":
				printPending(a)
				continue
			default:
				stepErr = errUsage
			}
		}
		if report(stepErr) {
			showStage(s)
		}
	}
}

var errUsage = errors.New("unknown command for this stage (type 'help')")

// report prints err and reports whether the step succeeded.
func report(err error) bool {
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return false
	}
	return true
}

func runDecreeAction(ctx context.Context, s *council.Session, ref string) error {
	v := s.Snapshot()
	if v.Decree == nil {
		return council.ErrUnknownAction
	}
	n, err := strconv.Atoi(ref)
	if err != nil || n < 1 || n > len(v.Decree.Actions) {
		return council.ErrUnknownAction
	}
	d, err := s.ExecuteAction(ctx, v.Decree.Actions[n-1].ID)
	if err != nil {
		return err
	}
	switch {
	case d.Pending != nil:
		fmt.Printf("⏸ queued for approval as %s\n", shortID(d.Pending.ID))
	case d.Entry != nil:
		fmt.Printf("[%s] %s\n", d.Entry.Outcome, d.Entry.Details)
	}
	return nil
}

func showStage(s *council.Session) {
	v := s.Snapshot()
	names := make(map[string]string, len(v.Team))
	for _, adv := range v.Team {
		names[adv.ID] = adv.Name
	}
	fmt.Printf("\n── %s ──\n", strings.ToUpper(string(v.Stage)))
	if v.Topic != "" {
		fmt.Printf("topic: %s\n", v.Topic)
	}

	switch v.Stage {
	case council.StageDiscovery:
		fmt.Println("enter a topic, or pick a suggestion:")
		for i, sug := range s.Suggestions() {
			fmt.Printf("  %d) %s\n", i+1, sug)
		}

	case council.StageAssembly:
		fmt.Println("seated advisors ('go' to brainstorm):")
		for _, adv := range v.Team {
			fmt.Printf("  %-12s %s, %s\n", adv.ID, adv.Name, adv.Title)
		}

	case council.StageBrainstorm:
		for _, p := range v.Proposals {
			status := ""
			switch {
			case p.IsProcessing:
				status = " (thinking...)"
			case p.Error:
				status = " (failed, 'retry " + p.AdvisorID + "')"
			}
			fmt.Printf("%s [%s]%s\n", names[p.AdvisorID], p.AdvisorID, status)
			for i, sol := range p.Solutions {
				fmt.Printf("  %d. %s\n", i+1, sol)
			}
		}
		fmt.Printf("pinned (%d):\n", len(v.Pins))
		for i, pin := range v.Pins {
			fmt.Printf("  %d) [%s] %s\n", i+1, names[pin.AdvisorID], pin.Text)
		}

	case council.StageCritique:
		for _, m := range v.Meeting {
			speaker := names[m.SpeakerID]
			if speaker == "" {
				speaker = m.SpeakerID
			}
			if m.Kind == types.KindConsensus {
				fmt.Printf("★ Consensus: %s\n", m.Text)
				continue
			}
			fmt.Printf("  %s: %s\n", speaker, m.Text)
		}
		if !v.CritiqueDone {
			fmt.Println("critique incomplete ('retry')")
		}

	case council.StageExecution:
		if v.Decree == nil {
			fmt.Println("no decree yet ('retry')")
			return
		}
		fmt.Println(v.Decree.Text)
		for i, act := range v.Decree.Actions {
			mark := " "
			if v.Executed[act.ID] {
				mark = "✓"
			}
			fmt.Printf("  %s %d) %s: %s\n", mark, i+1, act.Label, act.Description)
		}
	}
}
