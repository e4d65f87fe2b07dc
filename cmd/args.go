package cmd

// legacyFlags maps single-dash long flags kept for compatibility to their
// cobra spelling. pflag would otherwise read "-na" as "-n -a".
var legacyFlags = map[string]string{
	"-na": "--no-audio",
}

func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if repl, ok := legacyFlags[arg]; ok {
			arg = repl
		}
		out = append(out, arg)
	}
	return out
}
