package session

import (
	"fmt"

	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/transcription"
)

const (
	slashCommandStartDescription           = "会議の文字起こしを開始します。"
	slashCommandStopDescription            = "文字起こしを終了します。"
	slashCommandPauseDescription           = "文字起こしを一時停止します。"
	slashCommandResumeDescription          = "一時停止した文字起こしを再開します。"
	slashCommandEngineConnectedDescription = "次回からクラウド認識エンジンを使用します。"
	slashCommandEngineLocalDescription     = "次回からローカル認識エンジンを使用します。"
	slashCommandModelDescription           = "ローカル認識モデルの状態を確認し、必要ならダウンロードします。"

	messageEphemeralWrongGuild        = ":warning: **このサーバーでは実行できません。**"
	messageEphemeralUnknownCommand    = ":warning: **不明なコマンドです。**"
	messageEphemeralVoiceLookupFailed = ":warning: **ボイスチャンネルの参加状態の確認に失敗しました。**"
	messageEphemeralJoinVCFirst       = ":warning: **ボイスチャンネルに参加してから実行してください。**"
	messageEphemeralAlreadyRunning    = ":warning: **既に文字起こしが実行中です。**"
	messageEphemeralStartFailed       = ":warning: **文字起こしの開始に失敗しました。**"
	messageEphemeralNotRunning        = ":warning: **現在文字起こしは実行されていません。**"
	messageEphemeralEngineFailed      = ":warning: **認識エンジンの設定を保存できませんでした。**"
	messageEphemeralModelFailed       = ":warning: **モデルのダウンロードを開始できませんでした。**"

	messageStartChannelTitle = ":microphone2: **文字起こしを開始しました。**"
	messageStartChannelHint  = "-# /kikitori-stop コマンドで終了できます。"

	messageStopChannelTitle = ":stop_button: **文字起こしを終了しました。**"
	messageStopRestart      = "/kikitori コマンドで再度開始できます。"

	messageAttachmentTitle = ":page_facing_up: **文字起こしの内容**"

	messagePaused  = ":pause_button: **文字起こしを一時停止しました。** /kikitori-resume で再開できます。"
	messageResumed = ":arrow_forward: **文字起こしを再開しました。**"

	messageModelReady = ":white_check_mark: **ローカルモデル %s は利用可能です。**"
	messageModelStart = ":arrow_down: **ローカルモデル %s のダウンロードを開始しました。** 完了まで /kikitori-model で進捗を確認できます。"
	messageModelBusy  = ":hourglass: **ローカルモデル %s をダウンロード中です（%d%%）。**"
	messageModelError = ":warning: **前回のダウンロードは失敗しました：** %v"

	speakerLabelYou  = "You"
	speakerLabelThem = "Them"
)

func engineLabel(kind transcription.EngineKind) string {
	switch kind {
	case transcription.EngineConnected:
		return "クラウド"
	case transcription.EngineLocal:
		return "ローカル"
	default:
		return string(kind)
	}
}

func startChannelMessage(kind transcription.EngineKind) string {
	return fmt.Sprintf("%s\n-# 認識エンジン：%s\n%s", messageStartChannelTitle, engineLabel(kind), messageStartChannelHint)
}

func startEphemeralMessage(kind transcription.EngineKind) string {
	return fmt.Sprintf(":microphone2: **%sエンジンで文字起こしを開始しました。**", engineLabel(kind))
}

// startFailedMessage points at the likely remedy for the engine that
// refused to start.
func startFailedMessage(kind transcription.EngineKind) string {
	switch kind {
	case transcription.EngineLocal:
		return messageEphemeralStartFailed + "\n-# ローカルモデルが未準備です。/kikitori-model でダウンロードしてください。"
	case transcription.EngineConnected:
		return messageEphemeralStartFailed + "\n-# クラウド認識に接続できません。認証情報とネットワークを確認してください。"
	default:
		return messageEphemeralStartFailed
	}
}

func stopChannelMessage(reason string) string {
	return fmt.Sprintf("%s\n-# %s\n%s", messageStopChannelTitle, stopReasonDetail(reason), messageStopRestart)
}

func stopEphemeralMessage() string {
	return messageStopChannelTitle
}

func engineChangedMessage(kind transcription.EngineKind, recording bool) string {
	msg := fmt.Sprintf(":gear: **次回の文字起こしから%sエンジンを使用します。**", engineLabel(kind))
	if recording {
		msg += "\n-# 実行中の文字起こしは現在のエンジンのまま続きます。"
	}
	return msg
}

func modelReadyMessage(name string) string {
	return fmt.Sprintf(messageModelReady, name)
}

func modelBusyMessage(name string, progress transcriber.DownloadProgress) string {
	return fmt.Sprintf(messageModelBusy, name, progress.Percent)
}

func modelDownloadStartedMessage(name string, previous error) string {
	msg := fmt.Sprintf(messageModelStart, name)
	if previous != nil {
		msg = fmt.Sprintf(messageModelError, previous) + "\n" + msg
	}
	return msg
}

func stopReasonDetail(reason string) string {
	switch reason {
	case stopReasonManualSlash:
		return "終了コマンドが実行されました。"
	case stopReasonStreamLost:
		return "認識エンジンとの接続が切れました。"
	case stopReasonSourceEnded:
		return "音声の入力が終了しました。"
	case stopReasonOwnerLeft:
		return "録音者がボイスチャンネルから退出しました。"
	case stopReasonBotRemoved:
		return "文字起こしボットが退出させられました。"
	case stopReasonServerClosed:
		return "文字起こしサーバーが閉じられました。"
	default:
		return "不明なエラーが発生しました。"
	}
}
