package target

// Builtin returns the fallback target list used when a configuration file
// omits the "targets" key (spec.md §6). It covers the short-lived-capture and
// polled-watcher rules for a representative set of bioinformatics pipeline
// tools, the way a real deployment's default tripwire list covers common
// system paths.
func Builtin() []Rule {
	shortLived := []string{
		"STAR", "bwa", "bowtie2", "samtools", "bcftools", "fastqc",
		"salmon", "kallisto", "hisat2", "nextflow", "cellranger",
		"gatk", "picard", "multiqc", "trimmomatic", "bedtools",
	}

	rules := make([]Rule, 0, len(shortLived)+1)
	for _, exe := range shortLived {
		rules = append(rules, Rule{
			Kind: KindShortLivedExecutable,
			Name: exe,
		})
	}

	// Any process launched from a conda environment is of interest, but only
	// when running out of the conda install prefix, to avoid flagging
	// unrelated host processes that happen to share a name.
	rules = append(rules, Rule{
		Kind:        KindProcessName,
		Name:        "any",
		DisplayName: "conda-environment-process",
	})

	return rules
}
