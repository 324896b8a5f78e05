package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/oscar-mlm/bbpe"
)

// A REPL for interacting with a trained byte-level BPE tokenizer.

// evaluate encodes one line of input and prints the tokens and the byte-level
// pieces they stand for.
func evaluate(encoder *bbpe.Encoder, input string, specials bool,
	out io.Writer) {
	// Replace \n with newline.
	input = strings.Replace(input, "\\n", "\n", -1)

	var tokens bbpe.Tokens
	if specials {
		tokens = encoder.EncodeWithSpecials(input).InputIDs
	} else {
		tokens = encoder.Encode(input)
	}
	fmt.Fprintf(out, "%v\n", tokens)
	for _, token := range tokens {
		fmt.Fprintf(out, "|%s", encoder.Decoder[token])
	}
	fmt.Fprintf(out, "\n%q\n", encoder.Decode(tokens))
}

func main() {
	// Command line switch for selecting the tokenizer to use.
	tokenizerOpt := flag.String("tokenizer",
		"roberta-base-pretrained-ko",
		"The tokenizer directory, URL, or huggingface-id to use.")
	specials := flag.Bool("specials", false,
		"Wrap the input in <s> and </s>.")
	flag.Parse()

	encoder, err := bbpe.NewEncoderFromDir(*tokenizerOpt)
	if err != nil {
		log.Fatal(err)
	}

	reader := bufio.NewReader(os.Stdin)
	// Provide a REPL
	for {
		fmt.Print(">>> ")
		input, err := reader.ReadString('\n')
		if err == io.EOF {
			return
		} else if err != nil {
			log.Fatal(err)
		}
		evaluate(encoder, strings.TrimSuffix(input, "\n"), *specials,
			os.Stdout)
	}
}
