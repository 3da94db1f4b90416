/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-adapt/internal/audio"
	"github.com/loqalabs/loqa-adapt/internal/events"
	"github.com/loqalabs/loqa-adapt/internal/learning"
	"github.com/loqalabs/loqa-adapt/internal/transcription"
)

// --- transcribe ---

func newTranscribeCmd(opts *rootOptions) *cobra.Command {
	var (
		userID    string
		language  string
		translate bool
		target    string
		hint      string
		prompt    string
		specialty string
	)

	cmd := &cobra.Command{
		Use:   "transcribe <audio.wav>",
		Short: "Transcribe a WAV file, primed with the user's learned terms",
		Long: `Transcribe a 16-bit PCM or 32-bit float WAV file.

With --user, terms learned for that user and found in --hint are passed to
the decoder as "Preferred terms", and the recording is added to the user's
voice profile.

Examples:
  loqa-adapt transcribe visit.wav --user dr_smith --hint "hipertension follow-up"
  loqa-adapt transcribe interview.wav --translate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				clip, err := audio.ReadWAVFile(args[0])
				if err != nil {
					return err
				}

				svc, err := a.newTranscriptionService(ctx)
				if err != nil {
					return err
				}
				defer func() { _ = svc.Close(context.WithoutCancel(ctx)) }()

				req := transcription.Request{
					UserID:   userID,
					Audio:    clip,
					Language: language,
					HintText: hint,
					Prompt:   prompt,
					Context:  learning.Context{Specialty: specialty},
				}

				var result *transcription.Result
				if translate {
					result, err = svc.Translate(ctx, req, target)
				} else {
					result, err = svc.Transcribe(ctx, req)
				}
				if err != nil {
					return err
				}

				if opts.jsonOutput {
					return writeJSON(a.out, result)
				}
				fmt.Fprintln(a.out, result.Text)
				a.log.status("Language", "%s", result.Language)
				a.log.status("Duration", "%.2fs", result.Duration)
				a.log.status("Confidence", "%.2f", result.Confidence)
				if result.Prompt != "" {
					a.log.status("Prompt", "%s", result.Prompt)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user whose profile primes and learns from this recording")
	cmd.Flags().StringVar(&language, "language", "", "spoken language code (default: config or auto-detect)")
	cmd.Flags().BoolVar(&translate, "translate", false, "translate speech to English")
	cmd.Flags().StringVar(&target, "target", "en", "translation target language")
	cmd.Flags().StringVar(&hint, "hint", "", "text used to pick the user's preferred terms")
	cmd.Flags().StringVar(&prompt, "prompt", "", "explicit decoder prompt, overrides learned terms")
	cmd.Flags().StringVar(&specialty, "specialty", "", "specialty whose learned terms apply")
	return cmd
}

// --- correct ---

func newCorrectCmd(opts *rootOptions) *cobra.Command {
	var (
		userID    string
		original  string
		corrected string
		audioPath string
		specialty string
	)

	cmd := &cobra.Command{
		Use:   "correct",
		Short: "Teach the user's profile from a corrected transcription",
		Long: `Teach the user's profile from a corrected transcription.

Examples:
  loqa-adapt correct --user dr_smith --original "take ibuprufen" --corrected "take ibuprofen"
  loqa-adapt correct --user dr_smith --original "..." --corrected "..." --audio visit.wav --specialty cardiology`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				svc, err := a.requireLearning()
				if err != nil {
					return err
				}

				var features []float32
				if audioPath != "" {
					clip, err := audio.ReadWAVFile(audioPath)
					if err != nil {
						return err
					}
					features = audio.ExtractFeatures(clip.Samples, clip.SampleRate)
				}

				if err := svc.AdaptToCorrection(ctx, userID, original, corrected, features, learning.Context{Specialty: specialty}); err != nil {
					return err
				}

				stats, err := svc.UserStats(userID)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return writeJSON(a.out, stats)
				}
				a.log.successf("Learned from correction for %s", userID)
				a.log.status("Custom terms", "%d", stats.CustomTermsCount)
				a.log.status("Total corrections", "%d", stats.TotalCorrections)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&original, "original", "", "text as transcribed (required)")
	cmd.Flags().StringVar(&corrected, "corrected", "", "text as corrected by the user (required)")
	cmd.Flags().StringVar(&audioPath, "audio", "", "WAV recording of the utterance, adds a voice sample")
	cmd.Flags().StringVar(&specialty, "specialty", "", "specialty to file new terms under")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("original")
	_ = cmd.MarkFlagRequired("corrected")
	return cmd
}

// --- suggest ---

func newSuggestCmd(opts *rootOptions) *cobra.Command {
	var (
		userID    string
		specialty string
		top       int
	)

	cmd := &cobra.Command{
		Use:   "suggest <text>",
		Short: "Rank the user's preferred terms for a piece of text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				svc, err := a.requireLearning()
				if err != nil {
					return err
				}

				topN := top
				if !cmd.Flags().Changed("top") {
					topN = a.cfg.Learning.SuggestionTopN
				}

				suggestions, err := svc.Suggestions(ctx, userID, strings.Join(args, " "), learning.Context{Specialty: specialty}, topN)
				if err != nil {
					return err
				}

				if opts.jsonOutput {
					return writeJSON(a.out, suggestions)
				}
				if len(suggestions) == 0 {
					a.log.warnf("No suggestions")
					return nil
				}
				for _, s := range suggestions {
					fmt.Fprintf(a.out, "%-24s %.2f\n", s.Term, s.Confidence)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&specialty, "specialty", "", "include terms learned for this specialty")
	cmd.Flags().IntVar(&top, "top", 0, "maximum suggestions, 0 for all (defaults to learning.suggestion_top_n)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// --- stats ---

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show what has been learned for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				svc, err := a.requireLearning()
				if err != nil {
					return err
				}

				stats, err := svc.UserStats(userID)
				if err != nil {
					return err
				}

				if opts.jsonOutput {
					return writeJSON(a.out, stats)
				}
				fmt.Fprintf(a.out, "%s\n", stats.UserID)
				a.log.status("Adaptation steps", "%d", stats.AdaptationSteps)
				if stats.LastAdapted != nil {
					a.log.status("Last adapted", "%.0f", *stats.LastAdapted)
				}
				a.log.status("Custom terms", "%d", stats.CustomTermsCount)
				a.log.status("Total corrections", "%d", stats.TotalCorrections)
				a.log.status("Blacklisted terms", "%d", stats.BlacklistedTermsCount)
				a.log.status("Voice embeddings", "%d", stats.VoiceEmbeddingsCount)
				a.log.status("Terminology size", "%d", stats.TerminologySize)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// --- reset ---

func newResetCmd(opts *rootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget everything learned for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				svc, err := a.requireLearning()
				if err != nil {
					return err
				}

				reset, err := svc.ResetUserProfile(ctx, userID)
				if err != nil {
					return err
				}

				if opts.jsonOutput {
					return writeJSON(a.out, map[string]any{"user_id": userID, "reset": reset})
				}
				a.log.successf("Reset profile for %s", userID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// --- users ---

func newUsersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List users with a stored profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				svc, err := a.requireLearning()
				if err != nil {
					return err
				}

				users := svc.ListUsers()
				if opts.jsonOutput {
					return writeJSON(a.out, users)
				}
				for _, u := range users {
					fmt.Fprintln(a.out, u)
				}
				return nil
			})
		},
	}
}

// --- voice-id ---

func newVoiceIDCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "voice-id <audio.wav>",
		Short: "Derive the voice identifier of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				svc, err := a.requireLearning()
				if err != nil {
					return err
				}

				clip, err := audio.ReadWAVFile(args[0])
				if err != nil {
					return err
				}
				id := svc.VoiceID(audio.ExtractFeatures(clip.Samples, clip.SampleRate))

				if opts.jsonOutput {
					return writeJSON(a.out, map[string]string{"voice_id": id})
				}
				fmt.Fprintln(a.out, id)
				return nil
			})
		},
	}
}

// --- blacklist ---

func newBlacklistCmd(opts *rootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "blacklist <term>",
		Short: "Stop suggesting a term to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				svc, err := a.requireLearning()
				if err != nil {
					return err
				}

				if err := svc.Blacklist(ctx, userID, args[0]); err != nil {
					return err
				}
				a.log.successf("%q will no longer be suggested to %s", args[0], userID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// --- history ---

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		userID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded adaptation events for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if a.history == nil {
					return fmt.Errorf("correction history is disabled")
				}

				list, err := a.history.ListByUser(ctx, userID, limit)
				if err != nil {
					return err
				}

				if opts.jsonOutput {
					if list == nil {
						list = []*events.AdaptationEvent{}
					}
					return writeJSON(a.out, list)
				}
				for _, e := range list {
					fmt.Fprintln(a.out, e.String())
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events to list")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// --- watch ---

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream adaptation events from NATS until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if a.bus == nil {
					return fmt.Errorf("NATS is not enabled or not reachable")
				}

				received := make(chan *events.AdaptationEvent, 64)
				sub, err := a.bus.SubscribeToAdaptationEvents(func(e *events.AdaptationEvent) {
					select {
					case received <- e:
					default:
						a.log.warnf("dropping event %s, output is falling behind", e.ID)
					}
				})
				if err != nil {
					return err
				}
				defer func() { _ = sub.Unsubscribe() }()

				a.log.successf("Watching adaptation events")
				for {
					select {
					case <-ctx.Done():
						return nil
					case e := <-received:
						if opts.jsonOutput {
							if err := writeJSON(a.out, e); err != nil {
								return err
							}
							continue
						}
						fmt.Fprintln(a.out, e.String())
					}
				}
			})
		},
	}
}
