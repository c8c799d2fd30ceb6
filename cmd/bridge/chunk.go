package main

import (
	"fmt"
	"io"
	"os"

	"connbridge/pkg/chunk"
	"connbridge/pkg/compression"

	"github.com/spf13/cobra"
)

var (
	chunkCodec  string
	chunkOutput string
)

var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Convert chunks between the textual and the encoded form",
}

var chunkEncodeCmd = &cobra.Command{
	Use:   "encode [file]",
	Short: "Encode a textual chunk fixture",
	Long: `Encode reads a chunk in the textual form (file or stdin) and writes the encoded batch.
The codec defaults to bridge.chunk_codec from the config.

Examples:
  bridge chunk encode fixture.txt --codec lz4 -o fixture.chunk
  printf '+ 1 alice\n- 2 bob\n' | bridge chunk encode > fixture.chunk`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChunkEncode,
}

var chunkRenderCmd = &cobra.Command{
	Use:   "render [file]",
	Short: "Render an encoded chunk in the textual form",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChunkRender,
}

func init() {
	chunkEncodeCmd.Flags().StringVar(&chunkCodec, "codec", "", fmt.Sprintf("Payload codec %v", compression.Names()))
	chunkEncodeCmd.Flags().StringVarP(&chunkOutput, "output", "o", "-", "Output file")
	chunkRenderCmd.Flags().StringVarP(&chunkOutput, "output", "o", "-", "Output file")
	chunkCmd.AddCommand(chunkEncodeCmd, chunkRenderCmd)
}

func runChunkEncode(cmd *cobra.Command, args []string) error {
	codecName := chunkCodec
	if codecName == "" {
		cfg, err := initConfig(configPath)
		if err != nil {
			return err
		}
		codecName = cfg.Bridge.ChunkCodec
	}
	codec, err := compression.ByName(codecName)
	if err != nil {
		return err
	}

	text, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	c, err := chunk.Parse(string(text))
	if err != nil {
		return err
	}
	data, err := chunk.Encode(c, codec)
	if err != nil {
		return err
	}
	return writeOutput(cmd, chunkOutput, data)
}

func runChunkRender(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	c, err := chunk.Decode(data)
	if err != nil {
		return err
	}
	text, err := chunk.Render(c)
	if err != nil {
		return err
	}
	return writeOutput(cmd, chunkOutput, []byte(text))
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
