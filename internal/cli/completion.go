package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/kong"
)

// CompletionCmd generates shell completion scripts
type CompletionCmd struct {
	Shell string `arg:"" enum:"bash,zsh,fish" help:"Shell type (bash, zsh, fish)"`
}

// cmdSpec is one completable command path with everything offerable there.
// Path uses "__" between levels ("history__clear"); the root is "".
type cmdSpec struct {
	Path     string
	Commands []string
	Flags    []string
}

// completionModel is the flattened kong model the generators consume, so the
// emitted scripts can never drift from the real command tree.
type completionModel struct {
	Specs []cmdSpec
	Enums map[string][]string // flag token -> allowed values
}

// Run executes the completion command
func (c *CompletionCmd) Run(globals *Globals, ctx *kong.Context) error {
	var root *kong.Node
	if ctx != nil && ctx.Model != nil {
		root = ctx.Model.Node
	}
	m := flattenModel(root)

	var script string
	switch c.Shell {
	case "bash":
		script = bashScript(m)
	case "zsh":
		script = zshScript(m)
	case "fish":
		script = fishScript(m)
	default:
		return fmt.Errorf("unsupported shell: %s", c.Shell)
	}
	_, err := fmt.Fprint(globals.Stdout, script)
	return err
}

func flattenModel(root *kong.Node) completionModel {
	m := completionModel{Enums: map[string][]string{}}
	if root == nil {
		// No parse context (tests, direct invocation): emit a skeleton script.
		m.Specs = []cmdSpec{{}}
		return m
	}

	type frame struct {
		node *kong.Node
		path string
	}
	stack := []frame{{root, ""}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		spec := cmdSpec{Path: f.path}
		for _, child := range f.node.Children {
			if child == nil || child.Type != kong.CommandNode || child.Hidden {
				continue
			}
			spec.Commands = append(spec.Commands, child.Name)
			for _, alias := range child.Aliases {
				if alias = strings.TrimSpace(alias); alias != "" {
					spec.Commands = append(spec.Commands, alias)
				}
			}
			childPath := child.Name
			if f.path != "" {
				childPath = f.path + "__" + child.Name
			}
			stack = append(stack, frame{child, childPath})
		}
		sort.Strings(spec.Commands)

		seen := map[string]bool{}
		for _, group := range f.node.AllFlags(true) {
			for _, flag := range group {
				if flag == nil {
					continue
				}
				for _, tok := range flagTokens(flag) {
					if !seen[tok] {
						seen[tok] = true
						spec.Flags = append(spec.Flags, tok)
					}
					if vals := splitEnum(flag.Enum); len(vals) > 0 {
						// First writer wins; global flags show up everywhere.
						if _, ok := m.Enums[tok]; !ok {
							m.Enums[tok] = vals
						}
					}
				}
			}
		}
		sort.Strings(spec.Flags)
		m.Specs = append(m.Specs, spec)
	}

	sort.Slice(m.Specs, func(i, j int) bool { return m.Specs[i].Path < m.Specs[j].Path })
	return m
}

func flagTokens(f *kong.Flag) []string {
	toks := []string{"--" + f.Name}
	if f.Short != 0 {
		toks = append(toks, "-"+string(f.Short))
	}
	for _, alias := range f.Aliases {
		if alias = strings.TrimSpace(alias); alias != "" {
			toks = append(toks, "--"+alias)
		}
	}
	return toks
}

func splitEnum(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// pathList returns every non-root command path as one space-separated word
// list for shell membership tests.
func (m completionModel) pathList() string {
	var paths []string
	for _, s := range m.Specs {
		if s.Path != "" {
			paths = append(paths, s.Path)
		}
	}
	return strings.Join(paths, " ")
}

// caseArms writes one shell case arm per command path, assigning the command
// and flag word lists into the named shell variables.
func (m completionModel) caseArms(sb *strings.Builder, indent, cmdVar, flagVar string) {
	for _, s := range m.Specs {
		fmt.Fprintf(sb, "%s%q)\n", indent, s.Path)
		fmt.Fprintf(sb, "%s    %s=%q\n", indent, cmdVar, strings.Join(s.Commands, " "))
		fmt.Fprintf(sb, "%s    %s=%q\n", indent, flagVar, strings.Join(s.Flags, " "))
		fmt.Fprintf(sb, "%s    ;;\n", indent)
	}
}

func (m completionModel) enumTokens() []string {
	toks := make([]string, 0, len(m.Enums))
	for t := range m.Enums {
		toks = append(toks, t)
	}
	sort.Strings(toks)
	return toks
}

func bashScript(m completionModel) string {
	var sb strings.Builder
	sb.WriteString(`# bash completion for mdbg
# Install: eval "$(mdbg completion bash)"

_mdbg_pids() {
    local pids
    pids=$(mdbg --format ndjson ps 2>/dev/null | grep -o '"pid":[0-9]*' | cut -d: -f2)
    COMPREPLY=($(compgen -W "${pids}" -- "${cur}"))
}

_mdbg_transcripts() {
    COMPREPLY=($(compgen -f -X '!*.ndjson' -- "${cur}") $(compgen -d -- "${cur}"))
}

_mdbg() {
    local cur prev
    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"
    COMPREPLY=()

    local known="`)
	sb.WriteString(m.pathList())
	sb.WriteString(`"
    local cmdpath="" next="" w i
    for ((i = 1; i < COMP_CWORD; i++)); do
        w="${COMP_WORDS[i]}"
        case "${w}" in ''|-*) continue ;; esac
        next="${cmdpath:+${cmdpath}__}${w}"
        case " ${known} " in
            *" ${next} "*) cmdpath="${next}" ;;
            *) break ;;
        esac
    done

    case "${prev}" in
        attach)
            _mdbg_pids; return ;;
        launch)
            COMPREPLY=($(compgen -f -- "${cur}")); return ;;
        analyze|replay)
            _mdbg_transcripts; return ;;
`)
	for _, tok := range m.enumTokens() {
		fmt.Fprintf(&sb, "        %s)\n            COMPREPLY=($(compgen -W %q -- \"${cur}\")); return ;;\n",
			tok, strings.Join(m.Enums[tok], " "))
	}
	sb.WriteString(`    esac

    local cmds="" flags=""
    case "${cmdpath}" in
`)
	m.caseArms(&sb, "        ", "cmds", "flags")
	sb.WriteString(`    esac

    if [[ "${cur}" == -* ]]; then
        COMPREPLY=($(compgen -W "${flags}" -- "${cur}"))
    elif [[ -n "${cmds}" ]]; then
        COMPREPLY=($(compgen -W "${cmds}" -- "${cur}"))
    fi
}

complete -F _mdbg mdbg
`)
	return sb.String()
}

func zshScript(m completionModel) string {
	var sb strings.Builder
	sb.WriteString(`#compdef mdbg
# zsh completion for mdbg
# Install: eval "$(mdbg completion zsh)"

_mdbg_pids() {
  local -a pids
  pids=(${(f)"$(mdbg --format ndjson ps 2>/dev/null | grep -o '\"pid\":[0-9]*' | cut -d: -f2)"})
  compadd -- ${pids[@]}
}

_mdbg() {
  local cur prev known cmdpath next w i
  cur="${words[CURRENT]}"
  prev="${words[CURRENT-1]}"
  known="`)
	sb.WriteString(m.pathList())
	sb.WriteString(`"

  cmdpath=""
  for ((i = 2; i < CURRENT; i++)); do
    w="${words[i]}"
    case "${w}" in ''|-*) continue ;; esac
    next="${cmdpath:+${cmdpath}__}${w}"
    case " ${known} " in
      *" ${next} "*) cmdpath="${next}" ;;
      *) break ;;
    esac
  done

  case "${prev}" in
    attach)
      _mdbg_pids; return ;;
    launch)
      _files; return ;;
    analyze|replay)
      _files -g '*.ndjson'; return ;;
`)
	for _, tok := range m.enumTokens() {
		fmt.Fprintf(&sb, "    %s)\n      compadd -- %s; return ;;\n", tok, strings.Join(m.Enums[tok], " "))
	}
	sb.WriteString(`  esac

  local cmds flags
  case "${cmdpath}" in
`)
	m.caseArms(&sb, "    ", "cmds", "flags")
	sb.WriteString(`  esac

  if [[ "${cur}" == -* ]]; then
    compadd -- ${=flags}
  elif [[ -n "${cmds}" ]]; then
    compadd -- ${=cmds}
  fi
}

compdef _mdbg mdbg
`)
	return sb.String()
}

func fishScript(m completionModel) string {
	var sb strings.Builder
	sb.WriteString(`# fish completion for mdbg
# Install: mdbg completion fish > ~/.config/fish/completions/mdbg.fish

complete -c mdbg -f

`)
	// Commands, one condition level deep; nested paths would need commandline
	// parsing fish does not give us cheaply.
	for _, s := range m.Specs {
		if strings.Contains(s.Path, "__") {
			continue
		}
		cond := "__fish_use_subcommand"
		if s.Path != "" {
			cond = "__fish_seen_subcommand_from " + s.Path
		}
		for _, cmd := range s.Commands {
			fmt.Fprintf(&sb, "complete -c mdbg -n %q -a %s\n", cond, cmd)
		}
	}
	sb.WriteString("\n")
	for _, s := range m.Specs {
		if strings.Contains(s.Path, "__") {
			continue
		}
		cond := "__fish_use_subcommand"
		if s.Path != "" {
			cond = "__fish_seen_subcommand_from " + s.Path
		}
		for _, flag := range s.Flags {
			if !strings.HasPrefix(flag, "--") {
				continue
			}
			long := strings.TrimPrefix(flag, "--")
			if vals, ok := m.Enums[flag]; ok && len(vals) > 0 {
				fmt.Fprintf(&sb, "complete -c mdbg -n %q -l %s -xa %q\n", cond, long, strings.Join(vals, " "))
				continue
			}
			fmt.Fprintf(&sb, "complete -c mdbg -n %q -l %s\n", cond, long)
		}
	}
	sb.WriteString(`
# Dynamic arguments
complete -c mdbg -n "__fish_seen_subcommand_from attach" -a "(mdbg --format ndjson ps 2>/dev/null | grep -o '\"pid\":[0-9]*' | cut -d: -f2)"
complete -c mdbg -n "__fish_seen_subcommand_from launch" -F
complete -c mdbg -n "__fish_seen_subcommand_from analyze replay" -k -a "(__fish_complete_suffix .ndjson)"
`)
	return sb.String()
}
